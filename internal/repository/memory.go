package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/jackc/pgx/v5"
)

// MemoryStore is a process-local Store with the same locking and constraint
// behaviour as the Postgres schema: a per-offer row lock held for the length
// of a transaction, staged writes applied at commit, and commit-time checks of
// the (offer, user) and active-token uniqueness rules.
type MemoryStore struct {
	mu           sync.RWMutex
	offers       map[string]domain.Offer
	claims       map[string]domain.Claim
	byOfferUser  map[string]string
	activeTokens map[string]string

	lockMu   sync.Mutex
	rowLocks map[string]*sync.Mutex
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		offers:       make(map[string]domain.Offer),
		claims:       make(map[string]domain.Claim),
		byOfferUser:  make(map[string]string),
		activeTokens: make(map[string]string),
		rowLocks:     make(map[string]*sync.Mutex),
	}
}

func offerUserKey(offerID, userID string) string {
	return offerID + "\x00" + userID
}

func (s *MemoryStore) rowLock(offerID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.rowLocks[offerID]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[offerID] = m
	}
	return m
}

func (s *MemoryStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx := &memTx{
		s:      s,
		offers: make(map[string]domain.Offer),
		locked: make(map[string]*sync.Mutex),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.claims {
		if _, ok := s.byOfferUser[offerUserKey(c.OfferID, c.UserID)]; ok {
			return &ConstraintError{Constraint: ConstraintClaimOfferUser}
		}
		if _, ok := s.activeTokens[c.Token]; ok {
			return &ConstraintError{Constraint: ConstraintActiveToken}
		}
	}
	for _, o := range tx.offers {
		if o.ClaimedCount < 0 || o.ClaimedCount > o.MaxClaims {
			return &ConstraintError{Constraint: ConstraintClaimedCountBound}
		}
	}

	for id, o := range tx.offers {
		s.offers[id] = o
	}
	for _, c := range tx.claims {
		s.claims[c.ID] = c
		s.byOfferUser[offerUserKey(c.OfferID, c.UserID)] = c.ID
		s.activeTokens[c.Token] = c.ID
	}
	return nil
}

func (s *MemoryStore) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if err := validateOffer(offer); err != nil {
		return domain.Offer{}, err
	}
	if offer.Status == "" {
		offer.Status = domain.OfferScheduled
	}
	offer.ClaimedCount = 0
	now := time.Now()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}
	offer.UpdatedAt = offer.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offers[offer.ID]; ok {
		return domain.Offer{}, &ConstraintError{Constraint: ConstraintOfferPrimaryKey}
	}
	s.offers[offer.ID] = offer
	return offer, nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *MemoryStore) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *MemoryStore) ListClaimsByUser(ctx context.Context, userID string) ([]domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Claim
	for _, c := range s.claims {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ClaimsForOffer returns every claim ever created against offerID.
func (s *MemoryStore) ClaimsForOffer(offerID string) []domain.Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Claim
	for _, c := range s.claims {
		if c.OfferID == offerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) offerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.offers))
	for id := range s.offers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// updateOffers applies fn to every offer under its row lock, the way a
// single UPDATE statement would wait on rows held by open transactions.
func (s *MemoryStore) updateOffers(fn func(o *domain.Offer) bool) []domain.Offer {
	var out []domain.Offer
	for _, id := range s.offerIDs() {
		m := s.rowLock(id)
		m.Lock()
		s.mu.Lock()
		o := s.offers[id]
		if fn(&o) {
			s.offers[id] = o
			out = append(out, o)
		}
		s.mu.Unlock()
		m.Unlock()
	}
	return out
}

func (s *MemoryStore) ActivateDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return s.updateOffers(func(o *domain.Offer) bool {
		if !domain.CanTransitionOffer(o.Status, domain.OfferActive) || o.StartTime.After(now) {
			return false
		}
		o.Status = domain.OfferActive
		o.UpdatedAt = now
		return true
	}), nil
}

func (s *MemoryStore) ExpireDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return s.updateOffers(func(o *domain.Offer) bool {
		if !domain.CanTransitionOffer(o.Status, domain.OfferExpired) || o.EndTime.After(now) {
			return false
		}
		o.Status = domain.OfferExpired
		o.UpdatedAt = now
		return true
	}), nil
}

func (s *MemoryStore) ExpireDueClaims(ctx context.Context, now time.Time) ([]domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Claim
	for id, c := range s.claims {
		if !domain.CanTransitionClaim(c.Status, domain.ClaimExpired) || c.ExpiresAt.After(now) {
			continue
		}
		c.Status = domain.ClaimExpired
		c.Version++
		c.UpdatedAt = now
		s.claims[id] = c
		delete(s.activeTokens, c.Token)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTx struct {
	s      *MemoryStore
	offers map[string]domain.Offer
	claims []domain.Claim
	locked map[string]*sync.Mutex
}

func (tx *memTx) release() {
	for _, m := range tx.locked {
		m.Unlock()
	}
}

func (tx *memTx) LockOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	if o, ok := tx.offers[offerID]; ok {
		return o, nil
	}

	tx.s.mu.RLock()
	_, exists := tx.s.offers[offerID]
	tx.s.mu.RUnlock()
	if !exists {
		return domain.Offer{}, pgx.ErrNoRows
	}

	m := tx.s.rowLock(offerID)
	m.Lock()
	tx.locked[offerID] = m

	tx.s.mu.RLock()
	o := tx.s.offers[offerID]
	tx.s.mu.RUnlock()

	tx.offers[offerID] = o
	return o, nil
}

func (tx *memTx) ActivateOffer(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	o, err := tx.LockOffer(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if !domain.CanTransitionOffer(o.Status, domain.OfferActive) || o.StartTime.After(now) {
		return domain.Offer{}, pgx.ErrNoRows
	}
	o.Status = domain.OfferActive
	o.UpdatedAt = now
	tx.offers[offerID] = o
	return o, nil
}

func (tx *memTx) ClaimExists(ctx context.Context, offerID, userID string) (bool, error) {
	for _, c := range tx.claims {
		if c.OfferID == offerID && c.UserID == userID {
			return true, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	_, ok := tx.s.byOfferUser[offerUserKey(offerID, userID)]
	return ok, nil
}

func (tx *memTx) ActiveTokenExists(ctx context.Context, token string) (bool, error) {
	for _, c := range tx.claims {
		if c.Token == token {
			return true, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	_, ok := tx.s.activeTokens[token]
	return ok, nil
}

func (tx *memTx) InsertClaim(ctx context.Context, arg InsertClaimParams) (domain.Claim, bool, error) {
	if exists, _ := tx.ClaimExists(ctx, arg.OfferID, arg.UserID); exists {
		return domain.Claim{}, false, nil
	}
	if exists, _ := tx.ActiveTokenExists(ctx, arg.Token); exists {
		return domain.Claim{}, false, nil
	}
	c := domain.Claim{
		ID:        arg.ID,
		OfferID:   arg.OfferID,
		UserID:    arg.UserID,
		Token:     arg.Token,
		Status:    domain.ClaimActive,
		Version:   1,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: arg.CreatedAt,
		UpdatedAt: arg.CreatedAt,
	}
	tx.claims = append(tx.claims, c)
	return c, true, nil
}

func (tx *memTx) IncrementClaimed(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	o, err := tx.LockOffer(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if o.Status != domain.OfferActive || o.ClaimedCount >= o.MaxClaims {
		return domain.Offer{}, pgx.ErrNoRows
	}
	o.ClaimedCount++
	if o.ClaimedCount >= o.MaxClaims && domain.CanTransitionOffer(o.Status, domain.OfferFull) {
		o.Status = domain.OfferFull
	}
	o.UpdatedAt = now
	tx.offers[offerID] = o
	return o, nil
}

var _ Store = (*MemoryStore)(nil)
