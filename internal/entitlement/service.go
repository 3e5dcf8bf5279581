package entitlement

import (
	"context"
	"fmt"
)

// StatusService answers the authenticated "get my status" query against the
// authoritative store. It is the fetch path behind the read-through cache.
type StatusService struct {
	store   *Store
	counter AppCounter
	limits  Limits
}

// NewStatusService creates a StatusService.
func NewStatusService(store *Store, counter AppCounter, limits Limits) *StatusService {
	if limits == nil {
		limits = DefaultLimits
	}
	return &StatusService{store: store, counter: counter, limits: limits}
}

// FetchStatus builds the entitlement status for userID, lazily creating the
// record on first query.
func (s *StatusService) FetchStatus(ctx context.Context, userID string) (Status, error) {
	rec, err := s.store.EnsureRecord(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("fetch entitlement record: %w", err)
	}
	count, err := s.counter.CountApplications(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("count applications: %w", err)
	}

	limit, bounded := s.limits.LimitFor(rec.Tier)
	if !bounded {
		limit = 0
	}
	return Status{
		UserID:     userID,
		Tier:       rec.Tier,
		AppCount:   count,
		Limit:      limit,
		CanAddMore: CanAddMore(rec.Tier, count, s.limits),
		IsPro:      rec.IsPro(),
	}, nil
}
