package entitlement

import "context"

// DefaultFreeLimit is the number of tracked applications a free-tier user
// may create.
const DefaultFreeLimit = 15

// Limits maps tiers to their resource creation limits. Tiers without an
// entry are unlimited.
type Limits map[Tier]int

// DefaultLimits is the production limit table.
var DefaultLimits = Limits{TierFree: DefaultFreeLimit}

// LimitFor returns the creation limit for tier and whether one applies.
func (l Limits) LimitFor(tier Tier) (int, bool) {
	limit, ok := l[tier]
	return limit, ok
}

// CanAddMore decides whether a user on the given tier, currently holding
// currentCount protected resources, may create one more.
func CanAddMore(tier Tier, currentCount int, limits Limits) bool {
	limit, bounded := limits.LimitFor(tier)
	if !bounded {
		return true
	}
	return currentCount < limit
}

// AppCounter reports how many protected resources a user currently holds.
// The job-application store itself lives outside this service.
type AppCounter interface {
	CountApplications(ctx context.Context, userID string) (int, error)
}

// AuthorizeCreate is the authoritative creation-time check. It consults the
// store directly rather than any cached view, since the cache is a UI
// convenience and not a security boundary.
func AuthorizeCreate(ctx context.Context, store *Store, counter AppCounter, userID string, limits Limits) (bool, error) {
	rec, err := store.EnsureRecord(ctx, userID)
	if err != nil {
		return false, err
	}
	count, err := counter.CountApplications(ctx, userID)
	if err != nil {
		return false, err
	}
	return CanAddMore(rec.Tier, count, limits), nil
}
