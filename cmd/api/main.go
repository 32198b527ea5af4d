package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/changefeed"
	"github.com/azizikri/flash-offer-claims/internal/config"
	httphandler "github.com/azizikri/flash-offer-claims/internal/delivery/http"
	"github.com/azizikri/flash-offer-claims/internal/delivery/kafka"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/logger"
	"github.com/azizikri/flash-offer-claims/internal/notify"
	"github.com/azizikri/flash-offer-claims/internal/redisx"
	"github.com/azizikri/flash-offer-claims/internal/repository"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	var cache *redisx.ClaimCache
	var dedup kafka.Deduper
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
		cache = redisx.NewClaimCache(rdb)
		dedup = redisx.NewDeduper(rdb, "feed-"+cfg.KafkaInstanceID)
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	hub := changefeed.NewHub(log.Named("feed"))

	var (
		gateway   usecase.ClaimGateway
		publisher usecase.Publisher
		clients   []*kgo.Client
		wg        sync.WaitGroup
	)
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if cfg.EventDriven() {
		brokers := strings.Split(cfg.KafkaBrokers, ",")

		producer, err := kgo.NewClient(
			kgo.SeedBrokers(brokers...),
			kgo.ClientID(cfg.KafkaClientID+"-producer"),
		)
		if err != nil {
			log.Fatal("create kafka producer", zap.Error(err))
		}
		clients = append(clients, producer)

		if err := kafka.EnsureTopics(ctx, producer, cfg, log); err != nil {
			log.Warn("ensure kafka topics", zap.Error(err))
		}
		publisher = kafka.NewPublisher(producer, cfg.KafkaInstanceID)
	} else {
		publisher = invalidatingPublisher(hub, cache, log)
	}

	service := usecase.NewClaimService(store, publisher, log.Named("claims"), usecase.ClaimServiceConfig{
		MaxTokenAttempts: cfg.MaxTokenAttempts(),
		DefaultValidity:  cfg.ClaimValidity(),
	})
	gateway = service

	if cfg.EventDriven() {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		mustClient := func(name string, opts ...kgo.Opt) *kgo.Client {
			c, err := kgo.NewClient(append([]kgo.Opt{
				kgo.SeedBrokers(brokers...),
				kgo.ClientID(cfg.KafkaClientID + "-" + name),
			}, opts...)...)
			if err != nil {
				log.Fatal("create kafka client", zap.String("client", name), zap.Error(err))
			}
			clients = append(clients, c)
			return c
		}

		requests := mustClient("requests",
			kgo.ConsumerGroup(cfg.KafkaGroupID),
			kgo.ConsumeTopics(kafka.RequestTopics()...),
			kgo.DisableAutoCommit(),
		)
		retries := mustClient("retry",
			kgo.ConsumerGroup(cfg.KafkaRetryGroupID),
			kgo.ConsumeTopics(kafka.RetryTopics()...),
			kgo.DisableAutoCommit(),
		)
		replies := mustClient("reply",
			kgo.ConsumeTopics(kafka.ReplyTopic(cfg.KafkaInstanceID)),
		)
		updates := mustClient("feed",
			kgo.ConsumerGroup(cfg.KafkaFeedGroupID),
			kgo.ConsumeTopics(kafka.TopicClaimUpdates),
			kgo.DisableAutoCommit(),
		)

		kgateway := kafka.NewGateway(cfg, requests, log.Named("gateway"))
		gateway = kgateway

		consumer := kafka.NewConsumer(cfg, requests, service, log.Named("consumer"))
		retryConsumer := kafka.NewConsumer(cfg, retries, service, log.Named("retry"))
		var invalidator kafka.CacheInvalidator
		if cache != nil {
			invalidator = cache
		}
		relay := kafka.NewFeedRelay(updates, hub, dedup, invalidator, log.Named("relay"))

		background(func() { consumer.Start(ctx) })
		background(func() { retryConsumer.StartRetry(ctx) })
		background(func() { kgateway.PollReplies(ctx, replies) })
		background(func() { relay.Start(ctx) })
	}

	sweeper := usecase.NewSweeper(store, publisher, log.Named("sweeper"), cfg.SweepEvery())
	background(func() { sweeper.Run(ctx) })

	dispatcher := notify.NewDispatcher(notify.LogBridge{Log: log.Named("notify")}, log)
	detach := dispatcher.Listen(hub)
	defer detach()
	background(func() { dispatcher.Run(ctx) })

	var claimCache httphandler.ClaimCache
	if cache != nil {
		claimCache = cache
	}
	handler := httphandler.NewHandler(gateway, nil, claimCache, log.Named("http"))
	feedServer := httphandler.NewFeedServer(hub, nil, log.Named("ws"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle(cfg.WSPath, feedServer)
	handler.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	background(func() {
		log.Info("starting server",
			zap.String("port", cfg.AppPort),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("event_driven", cfg.EventDriven()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feedServer.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	for _, c := range clients {
		c.Close()
	}

	wg.Wait()
	log.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store; state is lost on restart")
		return repository.NewMemory(), func() {}, nil
	}

	pool, err := repository.Connect(ctx, cfg.DSN(), cfg.MaxConns(), cfg.MinConns())
	if err != nil {
		return nil, nil, err
	}
	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, log.Named("migrations")); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repository.New(pool), pool.Close, nil
}

// invalidatingPublisher publishes straight to the in-process hub, dropping
// the cached claim first so reads after the update see the new state.
func invalidatingPublisher(hub *changefeed.Hub, cache *redisx.ClaimCache, log *zap.Logger) usecase.Publisher {
	if cache == nil {
		return hub
	}
	return usecase.PublisherFunc(func(ctx context.Context, u domain.ClaimUpdate) error {
		if err := cache.Invalidate(ctx, u.ClaimID, u.Version); err != nil {
			log.Warn("invalidate claim cache", zap.String("claim_id", u.ClaimID), zap.Error(err))
		}
		return hub.Publish(ctx, u)
	})
}
