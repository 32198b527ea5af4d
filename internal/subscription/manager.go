// Package subscription keeps one shared feed connection for a client and
// multiplexes claim subscriptions over it. The connection is re-established
// with backoff after a transient loss and every active filter is replayed.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/feed"
	"go.uber.org/zap"
)

type (
	UpdateFunc func(domain.ClaimUpdate)
	ErrorFunc  func(error)
	StateFunc  func(ConnectionChanged)
)

type listener struct {
	onUpdate UpdateFunc
	onError  ErrorFunc
}

type Options struct {
	Backoff Backoff
	Logger  *zap.Logger
}

// Manager owns the shared connection. Callbacks run on a single delivery
// goroutine in the order the underlying events happened, so a listener sees
// state transitions and updates in sequence.
type Manager struct {
	dialer  Dialer
	backoff Backoff
	log     *zap.Logger
	out     *dispatcher

	mu        sync.Mutex
	state     State
	conn      Conn
	outbox    []feed.Frame
	wake      chan struct{}
	filters   map[feed.Filter]map[uint64]listener
	stateFns  map[uint64]StateFunc
	versions  map[string]domain.ClaimUpdate
	nextID    uint64
	started   bool
	closed    bool
	cancel    context.CancelFunc
	retry     chan struct{}
	runDone   chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

func New(dialer Dialer, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dialer:   dialer,
		backoff:  opts.Backoff.withDefaults(),
		log:      log,
		out:      newDispatcher(log),
		state:    Disconnected,
		wake:     make(chan struct{}, 1),
		filters:  make(map[feed.Filter]map[uint64]listener),
		stateFns: make(map[uint64]StateFunc),
		versions: make(map[string]domain.ClaimUpdate),
		retry:    make(chan struct{}, 1),
		runDone:  make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

// Start opens the connection in the background. It is a no-op after the
// first call.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go func() {
		defer close(m.runDone)
		m.run(ctx)
	}()
}

// Close stops the connection loop and waits for queued callbacks to finish.
// Every open stream is closed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		started := m.started
		cancel := m.cancel
		m.mu.Unlock()
		close(m.closing)

		if started {
			cancel()
			<-m.runDone
		}
		m.out.close()
	})
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retry restarts a Failed manager. It does nothing in any other state.
func (m *Manager) Retry() {
	if m.State() != Failed {
		return
	}
	select {
	case m.retry <- struct{}{}:
	default:
	}
}

// SubscribeToClaim delivers updates for one claim.
func (m *Manager) SubscribeToClaim(claimID string, onUpdate UpdateFunc, onError ErrorFunc) func() {
	return m.Subscribe(feed.ClaimFilter(claimID), onUpdate, onError)
}

// SubscribeToUserClaims delivers updates for every claim owned by userID.
func (m *Manager) SubscribeToUserClaims(userID string, onUpdate UpdateFunc, onError ErrorFunc) func() {
	return m.Subscribe(feed.UserFilter(userID), onUpdate, onError)
}

// Subscribe registers a listener for f and returns its unsubscribe function.
// The server sees one subscribe frame per distinct filter no matter how many
// listeners share it, and one unsubscribe when the last of them leaves.
// After Close, onError receives ErrClosed and nothing is registered.
func (m *Manager) Subscribe(f feed.Filter, onUpdate UpdateFunc, onError ErrorFunc) func() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if onError != nil {
			onError(ErrClosed)
		}
		return func() {}
	}
	m.nextID++
	id := m.nextID
	ls, ok := m.filters[f]
	if !ok {
		ls = make(map[uint64]listener)
		m.filters[f] = ls
		m.sendLocked(feed.Subscribe(f))
	}
	ls[id] = listener{onUpdate: onUpdate, onError: onError}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			ls := m.filters[f]
			delete(ls, id)
			if len(ls) == 0 {
				delete(m.filters, f)
				m.sendLocked(feed.Unsubscribe(f))
				m.forgetVersionsLocked()
			}
		})
	}
}

// OnConnectionStateChange registers fn for every state transition.
func (m *Manager) OnConnectionStateChange(fn StateFunc) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.stateFns[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.stateFns, id)
			m.mu.Unlock()
		})
	}
}

// Stream returns a channel carrying updates and errors for f together with
// connection state changes. The channel is closed once ctx is done or the
// manager is closed. A stream opened after Close carries a single ErrClosed.
func (m *Manager) Stream(ctx context.Context, f feed.Filter) <-chan Event {
	ch := make(chan Event, 64)
	emit := func(ev Event) {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		case <-m.closing:
		}
	}
	unsub := m.Subscribe(f,
		func(u domain.ClaimUpdate) { emit(ClaimUpdated{Update: u}) },
		func(err error) { emit(SubscriptionError{Filter: f, Err: err}) },
	)
	unwatch := m.OnConnectionStateChange(func(c ConnectionChanged) { emit(c) })

	go func() {
		select {
		case <-ctx.Done():
		case <-m.closing:
		}
		unsub()
		unwatch()
		// Queued behind any pending emits, so nothing sends after close. A
		// dispatcher that is shutting down runs no more emits once done.
		if !m.out.push(func() { close(ch) }) {
			<-m.out.done
			close(ch)
		}
	}()
	return ch
}

// Filters reports the filters currently registered.
func (m *Manager) Filters() []feed.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]feed.Filter, 0, len(m.filters))
	for f := range m.filters {
		out = append(out, f)
	}
	return out
}

func (m *Manager) run(ctx context.Context) {
	defer m.transition(Disconnected, nil)

	failures := 0
	for {
		m.transition(Connecting, nil)
		conn, err := m.dialer.Dial(ctx)
		if err == nil {
			failures = 0
			err = m.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}

		if IsRetryable(err) {
			m.transition(Reconnecting, err)
			if failures < m.backoff.MaxAttempts {
				failures++
				delay := m.backoff.Delay(failures)
				m.log.Warn("feed connection lost, reconnecting",
					zap.Int("attempt", failures),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
				if !sleep(ctx, delay) {
					return
				}
				continue
			}
		}

		m.log.Error("feed connection failed", zap.Int("attempts", failures), zap.Error(err))
		m.fail(err)
		select {
		case <-ctx.Done():
			return
		case <-m.retry:
			failures = 0
		}
	}
}

// serve replays every registered filter on conn and reads frames until the
// connection breaks.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	connCtx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	defer func() {
		cancel()
		_ = conn.Close()
		<-writerDone
		m.mu.Lock()
		m.conn = nil
		m.outbox = nil
		m.mu.Unlock()
	}()

	m.mu.Lock()
	m.conn = conn
	m.outbox = m.outbox[:0]
	for f := range m.filters {
		m.outbox = append(m.outbox, feed.Subscribe(f))
	}
	m.signalLocked()
	m.mu.Unlock()

	go func() {
		defer close(writerDone)
		m.writeLoop(connCtx, conn)
	}()

	m.transition(Connected, nil)

	for {
		fr, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		m.handle(fr)
	}
}

func (m *Manager) writeLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		m.mu.Lock()
		frames := m.outbox
		m.outbox = nil
		m.mu.Unlock()

		for _, fr := range frames {
			if err := conn.Send(ctx, fr); err != nil {
				m.log.Warn("feed send failed", zap.String("frame", string(fr.Type)), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// sendLocked queues fr for the open connection. Without one the frame is
// dropped; the filter set is replayed on the next connect.
func (m *Manager) sendLocked(fr feed.Frame) {
	if m.conn == nil {
		return
	}
	m.outbox = append(m.outbox, fr)
	m.signalLocked()
}

func (m *Manager) signalLocked() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) handle(fr feed.Frame) {
	switch fr.Type {
	case feed.FrameClaimUpdate:
		m.deliver(*fr.Update)
	case feed.FrameError:
		m.serverError(fr)
	case feed.FrameAck:
		m.log.Debug("feed subscription acknowledged", zap.Stringer("filter", fr.Filter))
	default:
		m.log.Debug("unexpected feed frame", zap.String("type", string(fr.Type)))
	}
}

// deliver hands u to every listener whose filter selects it, once per
// listener. Updates that are not newer than the last delivered one for the
// claim are redeliveries and are dropped.
func (m *Manager) deliver(u domain.ClaimUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.versions[u.ClaimID]; ok && !u.Newer(last) {
		return
	}
	m.versions[u.ClaimID] = u

	for _, f := range feed.FiltersFor(u) {
		for _, l := range m.filters[f] {
			if l.onUpdate == nil {
				continue
			}
			fn := l.onUpdate
			m.out.push(func() { fn(u) })
		}
	}
}

func (m *Manager) serverError(fr feed.Frame) {
	err := &TransportError{
		Op:        "subscribe",
		Retryable: fr.Error.Retryable,
		Err:       &ServerError{Code: fr.Error.Code, Message: fr.Error.Message},
	}
	if fr.Filter == nil {
		m.log.Warn("feed server error", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.filters[*fr.Filter] {
		if l.onError == nil {
			continue
		}
		fn := l.onError
		m.out.push(func() { fn(err) })
	}
}

// forgetVersionsLocked drops the delivered versions of claims no remaining
// filter selects.
func (m *Manager) forgetVersionsLocked() {
	for id, last := range m.versions {
		watched := false
		for _, f := range feed.FiltersFor(last) {
			if len(m.filters[f]) > 0 {
				watched = true
				break
			}
		}
		if !watched {
			delete(m.versions, id)
		}
	}
}

// fail moves to Failed and reports err to every listener.
func (m *Manager) fail(err error) {
	m.transition(Failed, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ls := range m.filters {
		for _, l := range ls {
			if l.onError == nil {
				continue
			}
			fn := l.onError
			m.out.push(func() { fn(err) })
		}
	}
}

func (m *Manager) transition(to State, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		m.log.Error("invalid connection state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		return
	}
	m.state = to
	change := ConnectionChanged{From: from, To: to, Err: cause}
	for _, fn := range m.stateFns {
		m.out.push(func() { fn(change) })
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
