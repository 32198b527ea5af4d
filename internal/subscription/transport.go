package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/feed"
	"github.com/gorilla/websocket"
)

// Conn is one open feed connection. Recv blocks until a frame arrives or the
// connection fails; Close unblocks it.
type Conn interface {
	Send(ctx context.Context, fr feed.Frame) error
	Recv(ctx context.Context) (feed.Frame, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 70 * time.Second
)

// WebSocketDialer connects to the claim feed endpoint. A handshake rejected
// with 401 or 403 is terminal.
type WebSocketDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, Terminal("dial", fmt.Errorf("handshake rejected: %s", resp.Status))
			}
		}
		return nil, Transient("dial", err)
	}

	conn := &wsConn{c: c}
	_ = c.SetReadDeadline(time.Now().Add(wsReadWait))
	c.SetPingHandler(func(data string) error {
		_ = c.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return conn, nil
}

type wsConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsConn) Send(_ context.Context, fr feed.Frame) error {
	data, err := json.Marshal(fr)
	if err != nil {
		return Terminal("encode", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.c.WriteMessage(websocket.TextMessage, data); err != nil {
		return Transient("send", err)
	}
	return nil
}

func (w *wsConn) Recv(_ context.Context) (feed.Frame, error) {
	for {
		_, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return feed.Frame{}, Terminal("recv", err)
			}
			return feed.Frame{}, Transient("recv", err)
		}
		_ = w.c.SetReadDeadline(time.Now().Add(wsReadWait))
		fr, err := feed.Decode(data)
		if err != nil {
			// Unknown frames from a newer server are skipped.
			continue
		}
		return fr, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
