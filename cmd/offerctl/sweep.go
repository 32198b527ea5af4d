package main

import (
	"fmt"
	"strings"

	"github.com/azizikri/flash-offer-claims/internal/delivery/kafka"
	"github.com/azizikri/flash-offer-claims/internal/repository"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func newSweepCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep against the Postgres store",
		Long: `Activate offers whose start time has passed, expire offers and claims
whose end time has passed, then exit. Expired-claim updates are published to
Kafka when EVENT_DRIVEN_ENABLED is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log := root.cfg, root.log

			pool, err := repository.Connect(ctx, cfg.DSN(), 2, 1)
			if err != nil {
				return err
			}
			defer pool.Close()

			var publisher usecase.Publisher
			if cfg.EventDriven() {
				client, err := kgo.NewClient(
					kgo.SeedBrokers(strings.Split(cfg.KafkaBrokers, ",")...),
					kgo.ClientID(cfg.KafkaClientID+"-offerctl"),
				)
				if err != nil {
					return fmt.Errorf("create kafka client: %w", err)
				}
				defer client.Close()
				publisher = kafka.NewPublisher(client, "offerctl")
			} else {
				log.Warn("event-driven mode disabled; expired claims will not reach the change feed")
			}

			sweeper := usecase.NewSweeper(repository.New(pool), publisher, log, 0)
			res, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			log.Debug("sweep finished", zap.Bool("empty", res.Empty()))

			return root.emit(cmd.OutOrStdout(), res, func() string {
				return fmt.Sprintf("activated offers: %d\nexpired offers:   %d\nexpired claims:   %d",
					res.ActivatedOffers, res.ExpiredOffers, res.ExpiredClaims)
			})
		},
	}
}
