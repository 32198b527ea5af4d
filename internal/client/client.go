// Package client is the consumer-side API of the claim service: a thin HTTP
// client and a Session that drives the optimistic claim flow.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// APIError is a non-2xx response. It unwraps to the matching domain error
// so callers can use errors.Is against domain sentinels.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return domain.ForCode(e.Code)
}

type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// New returns a client calling baseURL as userID. httpClient may be nil.
func New(baseURL, userID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    httpClient,
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// FeedURL is the WebSocket change-feed endpoint for this client.
func (c *Client) FeedURL(path string) string {
	u := c.baseURL + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Header carries the caller identity for both REST calls and the feed
// handshake.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("X-User-ID", c.userID)
	return h
}

func (c *Client) ClaimOffer(ctx context.Context, offerID string) (domain.Claim, error) {
	var claim domain.Claim
	err := c.do(ctx, http.MethodPost, "/api/offers/"+url.PathEscape(offerID)+"/claims", &claim)
	return claim, err
}

func (c *Client) GetOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	var offer domain.Offer
	err := c.do(ctx, http.MethodGet, "/api/offers/"+url.PathEscape(offerID), &offer)
	return offer, err
}

func (c *Client) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	var claim domain.Claim
	err := c.do(ctx, http.MethodGet, "/api/claims/"+url.PathEscape(claimID), &claim)
	return claim, err
}

func (c *Client) ListClaims(ctx context.Context) ([]domain.Claim, error) {
	claims := []domain.Claim{}
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(c.userID)+"/claims", &claims)
	return claims, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = c.Header()
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code, apiErr.Message = body.Code, body.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
