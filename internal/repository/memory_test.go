package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func seedOffer(t *testing.T, s *MemoryStore, id string, max int) domain.Offer {
	t.Helper()
	o, err := s.CreateOffer(context.Background(), domain.Offer{
		ID:            id,
		OwnerVenueID:  "venue-1",
		MaxClaims:     max,
		Status:        domain.OfferActive,
		StartTime:     base.Add(-time.Hour),
		EndTime:       base.Add(time.Hour),
		ClaimValue:    "free drink",
		ClaimValidity: 30 * time.Minute,
	})
	require.NoError(t, err)
	return o
}

func insertOne(ctx context.Context, q Querier, offerID, userID, token string) error {
	_, ok, err := q.InsertClaim(ctx, InsertClaimParams{
		ID:        offerID + "-" + userID,
		OfferID:   offerID,
		UserID:    userID,
		Token:     token,
		ExpiresAt: base.Add(30 * time.Minute),
		CreatedAt: base,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not inserted")
	}
	_, err = q.IncrementClaimed(ctx, offerID, base)
	return err
}

func TestMemoryStore_CreateOfferValidation(t *testing.T) {
	s := NewMemory()
	_, err := s.CreateOffer(context.Background(), domain.Offer{ID: "o1", OwnerVenueID: "v", MaxClaims: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	seedOffer(t, s, "o1", 2)
	_, err = s.CreateOffer(context.Background(), domain.Offer{
		ID: "o1", OwnerVenueID: "v", MaxClaims: 1,
		StartTime: base, EndTime: base.Add(time.Hour), ClaimValidity: time.Minute,
	})
	c, ok := ViolatedConstraint(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintOfferPrimaryKey, c)
}

func TestMemoryStore_LockUnknownOffer(t *testing.T) {
	s := NewMemory()
	err := s.ExecTx(context.Background(), func(q Querier) error {
		_, err := q.LockOffer(context.Background(), "missing")
		return err
	})
	assert.True(t, IsNoRows(err))
}

func TestMemoryStore_IncrementFlipsToFull(t *testing.T) {
	s := NewMemory()
	seedOffer(t, s, "o1", 2)
	ctx := context.Background()

	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u1", "111111") }))
	o, _ := s.GetOffer(ctx, "o1")
	assert.Equal(t, domain.OfferActive, o.Status)
	assert.Equal(t, 1, o.ClaimedCount)

	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u2", "222222") }))
	o, _ = s.GetOffer(ctx, "o1")
	assert.Equal(t, domain.OfferFull, o.Status)
	assert.Equal(t, 2, o.ClaimedCount)

	err := s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u3", "333333") })
	assert.True(t, IsNoRows(err))
	assert.Len(t, s.ClaimsForOffer("o1"), 2)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	s := NewMemory()
	seedOffer(t, s, "o1", 5)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.ExecTx(ctx, func(q Querier) error {
		if err := insertOne(ctx, q, "o1", "u1", "111111"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	o, _ := s.GetOffer(ctx, "o1")
	assert.Equal(t, 0, o.ClaimedCount)
	assert.Empty(t, s.ClaimsForOffer("o1"))
}

func TestMemoryStore_InsertSkipsDuplicates(t *testing.T) {
	s := NewMemory()
	seedOffer(t, s, "o1", 5)
	ctx := context.Background()
	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u1", "111111") }))

	_ = s.ExecTx(ctx, func(q Querier) error {
		_, ok, err := q.InsertClaim(ctx, InsertClaimParams{ID: "x", OfferID: "o1", UserID: "u1", Token: "999999"})
		require.NoError(t, err)
		assert.False(t, ok, "same user")

		_, ok, err = q.InsertClaim(ctx, InsertClaimParams{ID: "y", OfferID: "o1", UserID: "u2", Token: "111111"})
		require.NoError(t, err)
		assert.False(t, ok, "same active token")
		return nil
	})
}

// Two offers are locked independently, so a token collision between them is
// only detectable when the second transaction commits.
func TestMemoryStore_CommitDetectsCrossOfferTokenCollision(t *testing.T) {
	s := NewMemory()
	seedOffer(t, s, "o1", 5)
	seedOffer(t, s, "o2", 5)
	ctx := context.Background()

	inFirst := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.ExecTx(ctx, func(q Querier) error {
			if err := insertOne(ctx, q, "o1", "u1", "424242"); err != nil {
				return err
			}
			close(inFirst)
			<-release
			return nil
		})
	}()

	<-inFirst
	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o2", "u2", "424242") }))
	close(release)

	err := <-done
	c, ok := ViolatedConstraint(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ConstraintActiveToken, c)
}

func TestMemoryStore_ConcurrentClaimsNeverExceedMax(t *testing.T) {
	const (
		max   = 7
		users = 50
	)
	s := NewMemory()
	seedOffer(t, s, "o1", max)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.ExecTx(ctx, func(q Querier) error {
				return insertOne(ctx, q, "o1", fmt.Sprintf("u%02d", i), fmt.Sprintf("%06d", i))
			})
		}(i)
	}
	wg.Wait()

	o, err := s.GetOffer(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, max, o.ClaimedCount)
	assert.Equal(t, domain.OfferFull, o.Status)
	assert.Len(t, s.ClaimsForOffer("o1"), max)
}

func TestMemoryStore_SweeperUpdatesAreIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_, err := s.CreateOffer(ctx, domain.Offer{
		ID: "sched", OwnerVenueID: "v", MaxClaims: 3,
		StartTime: base.Add(-time.Minute), EndTime: base.Add(time.Hour), ClaimValidity: time.Minute,
	})
	require.NoError(t, err)
	seedOffer(t, s, "o1", 3)
	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u1", "111111") }))

	activated, err := s.ActivateDueOffers(ctx, base)
	require.NoError(t, err)
	require.Len(t, activated, 1)
	assert.Equal(t, "sched", activated[0].ID)
	activated, _ = s.ActivateDueOffers(ctx, base)
	assert.Empty(t, activated)

	expired, err := s.ExpireDueClaims(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, domain.ClaimExpired, expired[0].Status)
	assert.Equal(t, int64(2), expired[0].Version)
	expired, _ = s.ExpireDueClaims(ctx, base.Add(time.Hour))
	assert.Empty(t, expired)

	offers, err := s.ExpireDueOffers(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, offers, 2)
	offers, _ = s.ExpireDueOffers(ctx, base.Add(2*time.Hour))
	assert.Empty(t, offers)
}

func TestMemoryStore_SweepsSkipCancelledOffers(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_, err := s.CreateOffer(ctx, domain.Offer{
		ID: "gone", OwnerVenueID: "v", MaxClaims: 1,
		StartTime: base.Add(-time.Hour), EndTime: base.Add(time.Minute), ClaimValidity: time.Minute,
	})
	require.NoError(t, err)
	s.mu.Lock()
	o := s.offers["gone"]
	o.Status = domain.OfferCancelled
	s.offers["gone"] = o
	s.mu.Unlock()

	activated, err := s.ActivateDueOffers(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, activated)
	expired, err := s.ExpireDueOffers(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	o, err = s.GetOffer(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, domain.OfferCancelled, o.Status)

	_, err = s.CreateOffer(ctx, domain.Offer{
		ID: "odd", OwnerVenueID: "v", MaxClaims: 1, Status: "paused",
		StartTime: base, EndTime: base.Add(time.Hour), ClaimValidity: time.Minute,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMemoryStore_ExpiredTokenCanBeReissued(t *testing.T) {
	s := NewMemory()
	seedOffer(t, s, "o1", 3)
	seedOffer(t, s, "o2", 3)
	ctx := context.Background()
	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o1", "u1", "555555") }))

	_, err := s.ExpireDueClaims(ctx, base.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.ExecTx(ctx, func(q Querier) error { return insertOne(ctx, q, "o2", "u2", "555555") }))
}
