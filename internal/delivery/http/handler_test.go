package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/changefeed"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/feed"
	"github.com/azizikri/flash-offer-claims/internal/repository"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store   *repository.MemoryStore
	service *usecase.ClaimService
	feed    *FeedServer
}

func newTestServer(t *testing.T, cache ClaimCache) *testServer {
	t.Helper()
	store := repository.NewMemory()
	hub := changefeed.NewHub(nil)
	svc := usecase.NewClaimService(store, hub, nil, usecase.ClaimServiceConfig{MaxTokenAttempts: 5})

	r := chi.NewRouter()
	NewHandler(svc, nil, cache, nil).Routes(r)
	fs := NewFeedServer(hub, nil, nil)
	r.Get("/ws", fs.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		fs.Close()
		srv.Close()
	})
	return &testServer{Server: srv, store: store, service: svc, feed: fs}
}

func (s *testServer) seedOffer(t *testing.T, id string, max int) {
	t.Helper()
	now := time.Now()
	_, err := s.service.CreateOffer(context.Background(), domain.Offer{
		ID:            id,
		OwnerVenueID:  "venue-1",
		MaxClaims:     max,
		Status:        domain.OfferActive,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		ClaimValue:    "free espresso",
		ClaimValidity: 30 * time.Minute,
	})
	require.NoError(t, err)
}

func (s *testServer) do(t *testing.T, method, path, userID string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return resp, raw
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestClaimOffer_Created(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)

	resp, body := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var claim ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claim))
	assert.Equal(t, "offer-1", claim.OfferID)
	assert.Equal(t, "alice", claim.UserID)
	assert.Regexp(t, `^[0-9]{6}$`, claim.Token)
	assert.Equal(t, domain.ClaimActive, claim.Status)
}

func TestClaimOffer_Unauthenticated(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)

	resp, body := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, body).Code)
}

func TestClaimOffer_ErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 1)

	resp, _ := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		path   string
		user   string
		status int
		code   string
		err    error
	}{
		{"already claimed", "/api/offers/offer-1/claims", "alice", http.StatusConflict, "ALREADY_CLAIMED", domain.ErrAlreadyClaimed},
		{"full", "/api/offers/offer-1/claims", "bob", http.StatusConflict, "OFFER_FULL", domain.ErrOfferFull},
		{"unknown offer", "/api/offers/nope/claims", "bob", http.StatusNotFound, "OFFER_NOT_FOUND", domain.ErrOfferNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, tt.path, tt.user)
			assert.Equal(t, tt.status, resp.StatusCode)
			e := decodeError(t, body)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, domain.UserMessage(tt.err), e.Message)
		})
	}
}

func TestGetOffer(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)
	s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")

	resp, body := s.do(t, http.MethodGet, "/api/offers/offer-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var offer OfferResponse
	require.NoError(t, json.Unmarshal(body, &offer))
	assert.Equal(t, 1, offer.ClaimedCount)
	assert.Equal(t, 2, offer.Remaining)
	assert.Equal(t, domain.OfferActive, offer.Status)
}

func TestGetClaim_OwnerOnly(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)

	_, body := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body := s.do(t, http.MethodGet, "/api/claims/"+created.ID, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got ClaimResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.Token, got.Token)

	resp, _ = s.do(t, http.MethodGet, "/api/claims/"+created.ID, "mallory")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]domain.Claim
	hits  int
}

func (c *mapCache) Get(_ context.Context, id string) (domain.Claim, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	claim, ok := c.items[id]
	if ok {
		c.hits++
	}
	return claim, ok, nil
}

func (c *mapCache) Put(_ context.Context, claim domain.Claim) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[claim.ID] = claim
	return nil
}

func TestGetClaim_ReadThroughCache(t *testing.T) {
	cache := &mapCache{items: map[string]domain.Claim{}}
	s := newTestServer(t, cache)
	s.seedOffer(t, "offer-1", 3)

	_, body := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(body, &created))

	resp, _ := s.do(t, http.MethodGet, "/api/claims/"+created.ID, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, cache.hits)

	resp, _ = s.do(t, http.MethodGet, "/api/claims/"+created.ID, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, cache.hits)
}

func TestListUserClaims(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)
	s.seedOffer(t, "offer-2", 3)
	s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	s.do(t, http.MethodPost, "/api/offers/offer-2/claims", "alice")

	resp, body := s.do(t, http.MethodGet, "/api/users/alice/claims", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claims []ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claims))
	assert.Len(t, claims, 2)

	resp, body = s.do(t, http.MethodGet, "/api/users/bob/claims", "bob")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = s.do(t, http.MethodGet, "/api/users/alice/claims", "bob")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConcurrency_50ClaimsFor5Slots(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "concurrent-5", 5)

	var (
		wg            sync.WaitGroup
		successCount  int32
		conflictCount int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(uid int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/offers/concurrent-5/claims", nil)
			req.Header.Set("X-User-ID", fmt.Sprintf("user%d", uid))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("request failed: %v", err)
				return
			}
			resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusCreated:
				atomic.AddInt32(&successCount, 1)
			case http.StatusConflict:
				atomic.AddInt32(&conflictCount, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), successCount)
	assert.Equal(t, int32(45), conflictCount)
	assert.Len(t, s.store.ClaimsForOffer("concurrent-5"), 5)
}

func dialFeed(t *testing.T, s *testServer, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("X-User-ID", userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) feed.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	fr, err := feed.Decode(data)
	require.NoError(t, err)
	return fr
}

func TestFeed_DeliversOwnClaimUpdates(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedOffer(t, "offer-1", 3)

	conn := dialFeed(t, s, "alice")
	require.NoError(t, conn.WriteJSON(feed.Subscribe(feed.UserFilter("alice"))))
	ack := readFrame(t, conn)
	require.Equal(t, feed.FrameAck, ack.Type)

	resp, _ := s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "bob")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/offers/offer-1/claims", "alice")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	fr := readFrame(t, conn)
	require.Equal(t, feed.FrameClaimUpdate, fr.Type)
	assert.Equal(t, "alice", fr.Update.UserID)
	assert.Equal(t, domain.ClaimActive, fr.Update.Status)
	assert.Equal(t, int64(1), fr.Update.Version)
}

func TestFeed_RejectsForeignUserFilter(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialFeed(t, s, "alice")

	require.NoError(t, conn.WriteJSON(feed.Subscribe(feed.UserFilter("bob"))))
	fr := readFrame(t, conn)
	require.Equal(t, feed.FrameError, fr.Type)
	assert.Equal(t, "FORBIDDEN", fr.Error.Code)
	assert.False(t, fr.Error.Retryable)
}

func TestFeed_UnauthenticatedHandshake(t *testing.T) {
	s := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeed_CloseEndsSessions(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialFeed(t, s, "alice")
	require.NoError(t, conn.WriteJSON(feed.Subscribe(feed.UserFilter("alice"))))
	readFrame(t, conn)
	assert.Equal(t, 1, s.feed.Sessions())

	s.feed.Close()
	assert.Equal(t, 0, s.feed.Sessions())
}
