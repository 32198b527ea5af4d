// Package optimistic tracks speculative client-side state changes until the
// server confirms or rejects them.
package optimistic

import (
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrNotFound = errors.New("optimistic update not found")

	// ErrSuperseded is returned by Rollback when a newer update for the same
	// key was applied after the one being rolled back. The rolled-back entry
	// is dropped and nothing is restored; the newer update now carries its
	// previous state.
	ErrSuperseded = errors.New("optimistic update superseded")
)

type entry[K comparable, S any] struct {
	id       string
	key      K
	seq      uint64
	previous S
	proposed S
}

type keyRecord[K comparable, S any] struct {
	pending      []*entry[K, S]
	confirmedSeq uint64
}

func (r *keyRecord[K, S]) remove(id string) int {
	for i, e := range r.pending {
		if e.id == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return i
		}
	}
	return -1
}

// Reconciler is an arena of in-flight updates keyed by (key, update id).
// Every update keeps its own previous state.
type Reconciler[K comparable, S any] struct {
	mu    sync.Mutex
	seq   uint64
	byID  map[string]*entry[K, S]
	byKey map[K]*keyRecord[K, S]
	newID func() (string, error)
}

func New[K comparable, S any]() *Reconciler[K, S] {
	return &Reconciler[K, S]{
		byID:  make(map[string]*entry[K, S]),
		byKey: make(map[K]*keyRecord[K, S]),
		newID: func() (string, error) { return gonanoid.New() },
	}
}

// Apply records that the caller has shown proposed in place of previous for
// key and returns the id used to confirm or roll it back.
func (r *Reconciler[K, S]) Apply(key K, previous, proposed S) (string, error) {
	id, err := r.newID()
	if err != nil {
		return "", fmt.Errorf("generate update id: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e := &entry[K, S]{id: id, key: key, seq: r.seq, previous: previous, proposed: proposed}
	r.byID[id] = e

	rec, ok := r.byKey[key]
	if !ok {
		rec = &keyRecord[K, S]{}
		r.byKey[key] = rec
	}
	rec.pending = append(rec.pending, e)
	return id, nil
}

// Confirm settles an update. A later Rollback of the same id returns
// ErrNotFound.
func (r *Reconciler[K, S]) Confirm(key K, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.key != key {
		return ErrNotFound
	}
	delete(r.byID, id)

	rec := r.byKey[key]
	rec.remove(id)
	if e.seq > rec.confirmedSeq {
		rec.confirmedSeq = e.seq
	}
	r.dropIfIdle(key, rec)
	return nil
}

// Rollback withdraws an update. For the newest update of its key it returns
// the state to restore. An update overtaken by a newer one, pending or
// confirmed, returns ErrSuperseded and restores nothing.
func (r *Reconciler[K, S]) Rollback(id string) (S, error) {
	var zero S

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return zero, ErrNotFound
	}
	delete(r.byID, id)

	rec := r.byKey[e.key]
	i := rec.remove(id)
	defer r.dropIfIdle(e.key, rec)

	if i < len(rec.pending) {
		rec.pending[i].previous = e.previous
		return zero, ErrSuperseded
	}
	if rec.confirmedSeq > e.seq {
		return zero, ErrSuperseded
	}
	return e.previous, nil
}

// Current returns the state shown for key by its newest pending update.
func (r *Reconciler[K, S]) Current(key K) (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byKey[key]
	if !ok || len(rec.pending) == 0 {
		var zero S
		return zero, false
	}
	return rec.pending[len(rec.pending)-1].proposed, true
}

// Pending reports the number of unsettled updates for key.
func (r *Reconciler[K, S]) Pending(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byKey[key]; ok {
		return len(rec.pending)
	}
	return 0
}

// Len reports the number of unsettled updates across all keys.
func (r *Reconciler[K, S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Reconciler[K, S]) dropIfIdle(key K, rec *keyRecord[K, S]) {
	if len(rec.pending) == 0 {
		delete(r.byKey, key)
	}
}
