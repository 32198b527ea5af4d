package subscription

import (
	"sync"

	"go.uber.org/zap"
)

// dispatcher runs callbacks one at a time in the order they were queued.
// Queueing never blocks, so callbacks may call back into the manager.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	log    *zap.Logger
}

func newDispatcher(log *zap.Logger) *dispatcher {
	d := &dispatcher{done: make(chan struct{}), log: log}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// push queues fn and reports whether it will run. Nothing is accepted after
// close.
func (d *dispatcher) push(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.call(fn)
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscription callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// close drains what is already queued, then stops.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
	<-d.done
}
