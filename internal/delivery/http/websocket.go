package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/feed"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// FeedSource is the in-process change feed sessions register with.
type FeedSource interface {
	Subscribe(f feed.Filter, fn func(domain.ClaimUpdate)) func()
}

// FeedServer serves the claim change feed over WebSocket. One connection
// carries any number of filter registrations.
type FeedServer struct {
	source   FeedSource
	auth     Authenticator
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func NewFeedServer(source FeedSource, auth Authenticator, log *zap.Logger) *FeedServer {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedServer{
		source: source,
		auth:   auth,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

func (s *FeedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "Sign in to receive claim updates."})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		s.log.Error("generate session id", zap.Error(err))
		return
	}

	sess := &session{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[feed.Filter]func()),
		server: s,
	}
	s.mu.Lock()
	s.sessions[id] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	s.log.Info("feed session opened",
		zap.String("session_id", id),
		zap.String("user_id", userID),
		zap.Int("total_sessions", total),
	)

	go sess.writePump()
	sess.readPump()
}

// Sessions reports the number of open connections.
func (s *FeedServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends every open session.
func (s *FeedServer) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func (s *FeedServer) forget(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	remaining := len(s.sessions)
	s.mu.Unlock()

	s.log.Info("feed session closed",
		zap.String("session_id", sess.id),
		zap.Int("remaining_sessions", remaining),
	)
}

type session struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *FeedServer

	mu   sync.Mutex
	subs map[feed.Filter]func()

	closeOnce sync.Once
}

func (c *session) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		for f, unsub := range c.subs {
			unsub()
			delete(c.subs, f)
		}
		c.mu.Unlock()

		_ = c.conn.Close()
		c.server.forget(c)
	})
}

func (c *session) enqueue(fr feed.Frame) {
	data, err := json.Marshal(fr)
	if err != nil {
		c.server.log.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		// A client that cannot keep up is dropped; it resubscribes on reconnect.
		c.server.log.Warn("feed session too slow, closing", zap.String("session_id", c.id))
		go c.close()
	}
}

// deliver filters updates down to the session owner's claims.
func (c *session) deliver(u domain.ClaimUpdate) {
	if u.UserID != c.userID {
		return
	}
	c.enqueue(feed.Update(u))
}

func (c *session) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("feed read error", zap.String("session_id", c.id), zap.Error(err))
			}
			return
		}

		fr, err := feed.Decode(message)
		if err != nil {
			c.enqueue(feed.Error(nil, domain.Code(domain.ErrInvalidInput), err.Error(), false))
			continue
		}
		c.handle(fr)
	}
}

func (c *session) handle(fr feed.Frame) {
	switch fr.Type {
	case feed.FrameSubscribe:
		f := *fr.Filter
		if err := f.Validate(); err != nil {
			c.enqueue(feed.Error(&f, domain.Code(err), err.Error(), false))
			return
		}
		if f.Kind == feed.FilterUser && f.ID != c.userID {
			c.enqueue(feed.Error(&f, "FORBIDDEN", "cannot subscribe to another user's claims", false))
			return
		}
		c.mu.Lock()
		if _, ok := c.subs[f]; !ok {
			c.subs[f] = c.server.source.Subscribe(f, c.deliver)
		}
		c.mu.Unlock()
		c.enqueue(feed.Ack(f))
	case feed.FrameUnsubscribe:
		f := *fr.Filter
		c.mu.Lock()
		if unsub, ok := c.subs[f]; ok {
			unsub()
			delete(c.subs, f)
		}
		c.mu.Unlock()
		c.enqueue(feed.Ack(f))
	case feed.FrameClaimUpdate, feed.FrameAck, feed.FrameError:
		c.enqueue(feed.Error(nil, domain.Code(domain.ErrInvalidInput), "unexpected frame from client", false))
	}
}

func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
