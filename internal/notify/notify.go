// Package notify hands committed claim transitions to the external
// notification system.
package notify

import (
	"context"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"go.uber.org/zap"
)

// Bridge delivers one claim transition to the notification system. The
// push, email and in-app channels live behind it.
type Bridge interface {
	Notify(ctx context.Context, u domain.ClaimUpdate) error
}

type BridgeFunc func(ctx context.Context, u domain.ClaimUpdate) error

func (f BridgeFunc) Notify(ctx context.Context, u domain.ClaimUpdate) error {
	return f(ctx, u)
}

// LogBridge records transitions in the service log. It stands in when no
// notification system is configured.
type LogBridge struct {
	Log *zap.Logger
}

func (b LogBridge) Notify(_ context.Context, u domain.ClaimUpdate) error {
	b.Log.Info("claim transition",
		zap.String("claim_id", u.ClaimID),
		zap.String("offer_id", u.OfferID),
		zap.String("user_id", u.UserID),
		zap.String("status", string(u.Status)),
		zap.Int64("version", u.Version),
	)
	return nil
}

// Source is the feed the dispatcher listens to.
type Source interface {
	SubscribeAll(fn func(domain.ClaimUpdate)) func()
}

// Dispatcher forwards every update from the feed to the bridge on its own
// goroutine so the publisher never waits on notification delivery.
type Dispatcher struct {
	bridge  Bridge
	log     *zap.Logger
	timeout time.Duration
	queue   chan domain.ClaimUpdate
}

func NewDispatcher(bridge Bridge, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		bridge:  bridge,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan domain.ClaimUpdate, 1024),
	}
}

// Listen registers the dispatcher with source and returns the function that
// detaches it.
func (d *Dispatcher) Listen(source Source) func() {
	return source.SubscribeAll(d.enqueue)
}

// Run delivers queued updates until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-d.queue:
			d.deliver(ctx, u)
		}
	}
}

func (d *Dispatcher) enqueue(u domain.ClaimUpdate) {
	select {
	case d.queue <- u:
	default:
		d.log.Warn("notification queue full, dropping update",
			zap.String("claim_id", u.ClaimID),
			zap.Int64("version", u.Version),
		)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, u domain.ClaimUpdate) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.bridge.Notify(ctx, u); err != nil {
		d.log.Warn("notify claim transition",
			zap.String("claim_id", u.ClaimID),
			zap.Error(err),
		)
	}
}
