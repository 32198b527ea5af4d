// Package changefeed fans committed claim updates out to in-process
// subscribers: WebSocket sessions and the notification dispatcher.
package changefeed

import (
	"context"
	"sync"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/feed"
	"go.uber.org/zap"
)

type subscription struct {
	id uint64
	fn func(domain.ClaimUpdate)
}

// Hub delivers each published update to every subscriber whose filter
// selects it. Handlers run on the publishing goroutine and must not block.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	byKey  map[feed.Filter][]subscription
	global []subscription
	log    *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		byKey: make(map[feed.Filter][]subscription),
		log:   log,
	}
}

// Subscribe registers fn for f and returns its unsubscribe function, which is
// safe to call more than once.
func (h *Hub) Subscribe(f feed.Filter, fn func(domain.ClaimUpdate)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.byKey[f] = append(h.byKey[f], subscription{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.byKey[f] = remove(h.byKey[f], id)
			if len(h.byKey[f]) == 0 {
				delete(h.byKey, f)
			}
		})
	}
}

// SubscribeAll registers fn for every update regardless of filter.
func (h *Hub) SubscribeAll(fn func(domain.ClaimUpdate)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.global = append(h.global, subscription{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.global = remove(h.global, id)
		})
	}
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish satisfies usecase.Publisher.
func (h *Hub) Publish(_ context.Context, u domain.ClaimUpdate) error {
	h.mu.RLock()
	var targets []subscription
	for _, f := range feed.FiltersFor(u) {
		targets = append(targets, h.byKey[f]...)
	}
	targets = append(targets, h.global...)
	h.mu.RUnlock()

	for _, s := range targets {
		h.deliver(s, u)
	}
	return nil
}

func (h *Hub) deliver(s subscription, u domain.ClaimUpdate) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("change feed handler panicked",
				zap.String("claim_id", u.ClaimID),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(u)
}

// Subscribers reports the number of registrations for f.
func (h *Hub) Subscribers(f feed.Filter) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byKey[f])
}
