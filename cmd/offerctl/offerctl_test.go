package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	deliveryhttp "github.com/azizikri/flash-offer-claims/internal/delivery/http"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/mirror"
	"github.com/azizikri/flash-offer-claims/internal/repository"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func claimServer(t *testing.T) string {
	t.Helper()
	svc := usecase.NewClaimService(repository.NewMemory(), nil, nil, usecase.ClaimServiceConfig{})
	now := time.Now()
	_, err := svc.CreateOffer(context.Background(), domain.Offer{
		ID:            "offer-1",
		OwnerVenueID:  "venue-1",
		MaxClaims:     1,
		Status:        domain.OfferActive,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		ClaimValidity: time.Hour,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	deliveryhttp.NewHandler(svc, nil, nil, nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "claim", "offer-1", "--user", "alice", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestWatch_RequiresUser(t *testing.T) {
	_, err := execute(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestWatch_ExitsWhenFeedUnreachable(t *testing.T) {
	// The API server has no feed route, so every handshake fails with 404.
	url := claimServer(t)

	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = execute(t, "watch", "--user", "alice", "--server", url, "--max-attempts", "1")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "feed unreachable after 1 attempts")
		assert.Contains(t, out, "reconnecting -> failed")
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not exit after the feed failed")
	}
}

func TestClaim_PrintsClaimAndMirrors(t *testing.T) {
	url := claimServer(t)
	dbPath := filepath.Join(t.TempDir(), "claims.db")

	out, err := execute(t, "claim", "offer-1", "--user", "alice", "--server", url, "--format", "json", "--mirror", dbPath)
	require.NoError(t, err)

	var claim domain.Claim
	require.NoError(t, json.Unmarshal([]byte(out), &claim))
	assert.Equal(t, "alice", claim.UserID)
	assert.Len(t, claim.Token, 6)

	m, err := mirror.Open(dbPath)
	require.NoError(t, err)
	defer m.Close()
	rec, err := m.Get(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.Token, rec.Token)
}

func TestClaim_ConflictShowsUserMessage(t *testing.T) {
	url := claimServer(t)
	_, err := execute(t, "claim", "offer-1", "--user", "alice", "--server", url)
	require.NoError(t, err)

	_, err = execute(t, "claim", "offer-1", "--user", "bob", "--server", url)
	require.Error(t, err)
	assert.Equal(t, domain.UserMessage(domain.ErrOfferFull), err.Error())
}

func TestFormatLine(t *testing.T) {
	l := watchLine{Event: "connection", At: "t", From: "connected", To: "reconnecting", Error: "boom"}
	assert.Equal(t, "t  connection connected -> reconnecting: boom", formatLine(l))

	l = watchLine{Event: "claim_update", At: "t", ClaimID: "c1", OfferID: "o1", Status: "expired", Version: 2}
	assert.Equal(t, "t  claim c1  offer o1  expired (v2)", formatLine(l))
}
