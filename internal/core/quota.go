package core

import (
	"context"
	"log"

	"github.com/chat4u/server/internal/identity"
)

// QuotaStore is the persistence surface the tracker needs. Satisfied by
// store.SQLiteStore and store.MemoryStore.
type QuotaStore interface {
	GetQuota(ctx context.Context, identityKey string) (int, error)
	IncrementQuota(ctx context.Context, identityKey string) (int, error)
	ResetQuota(ctx context.Context, identityKey string) error
}

// Ceilings are the plan-dependent prompt limits.
type Ceilings struct {
	Anonymous     int
	Authenticated int
}

// QuotaTracker counts consumed prompts per identity against a
// plan-dependent ceiling. All state lives in the injected store.
type QuotaTracker struct {
	store    QuotaStore
	ceilings Ceilings
}

func NewQuotaTracker(store QuotaStore, ceilings Ceilings) *QuotaTracker {
	return &QuotaTracker{store: store, ceilings: ceilings}
}

// Get returns the persisted count for the identity, defaulting to 0 for
// unknown identities. A storage failure also yields 0: an outage must
// never read as "limit reached".
func (t *QuotaTracker) Get(ctx context.Context, id identity.Identity) int {
	count, err := t.store.GetQuota(ctx, id.Key())
	if err != nil {
		log.Printf("quota read failed for %s, assuming 0: %v", id.Key(), err)
		return 0
	}
	return count
}

// Increment adds one to the identity's counter and returns the new
// value. Unlike Get, a persistence failure is reported so the caller can
// decide what to do with the optimistic state it already built.
func (t *QuotaTracker) Increment(ctx context.Context, id identity.Identity) (int, error) {
	return t.store.IncrementQuota(ctx, id.Key())
}

// Reset sets the identity's counter back to zero. Called on the
// anonymous-to-authenticated transition; the anonymous count is
// discarded, not merged.
func (t *QuotaTracker) Reset(ctx context.Context, id identity.Identity) error {
	return t.store.ResetQuota(ctx, id.Key())
}

// Ceiling returns the prompt limit for the identity's kind.
func (t *QuotaTracker) Ceiling(id identity.Identity) int {
	if id.IsAuthenticated() {
		return t.ceilings.Authenticated
	}
	return t.ceilings.Anonymous
}

// HasCrossedLimit reports whether the identity has used up its quota.
// At exactly the ceiling the limit counts as crossed.
func (t *QuotaTracker) HasCrossedLimit(ctx context.Context, id identity.Identity) bool {
	return t.Get(ctx, id) >= t.Ceiling(id)
}
