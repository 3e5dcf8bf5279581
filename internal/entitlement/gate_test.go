package entitlement

import (
	"context"
	"errors"
	"testing"
)

func TestCanAddMoreFreeTierLimit(t *testing.T) {
	limits := Limits{TierFree: 15}

	if CanAddMore(TierFree, 15, limits) {
		t.Error("free tier at limit should be blocked")
	}
	if !CanAddMore(TierFree, 14, limits) {
		t.Error("free tier under limit should be allowed")
	}
	if CanAddMore(TierFree, 16, limits) {
		t.Error("free tier over limit should be blocked")
	}
}

func TestCanAddMoreProUnlimited(t *testing.T) {
	if !CanAddMore(TierPro, 10_000, DefaultLimits) {
		t.Error("pro tier should be unlimited")
	}
}

type fixedCounter struct {
	count int
	err   error
}

func (f fixedCounter) CountApplications(context.Context, string) (int, error) {
	return f.count, f.err
}

func TestAuthorizeCreateConsultsStoreDirectly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Unknown user: record created lazily on the free tier.
	ok, err := AuthorizeCreate(ctx, store, fixedCounter{count: 14}, "user-1", DefaultLimits)
	if err != nil {
		t.Fatalf("AuthorizeCreate: %v", err)
	}
	if !ok {
		t.Error("free user under limit should be authorized")
	}

	ok, err = AuthorizeCreate(ctx, store, fixedCounter{count: 15}, "user-1", DefaultLimits)
	if err != nil {
		t.Fatalf("AuthorizeCreate: %v", err)
	}
	if ok {
		t.Error("free user at limit should be denied")
	}

	if err := store.ApplyCheckoutCompleted(ctx, "user-1", "cus_1", "sub_1"); err != nil {
		t.Fatalf("ApplyCheckoutCompleted: %v", err)
	}
	ok, err = AuthorizeCreate(ctx, store, fixedCounter{count: 500}, "user-1", DefaultLimits)
	if err != nil {
		t.Fatalf("AuthorizeCreate: %v", err)
	}
	if !ok {
		t.Error("pro user should be authorized regardless of count")
	}
}

func TestAuthorizeCreatePropagatesCounterError(t *testing.T) {
	store := newTestStore(t)
	wantErr := errors.New("app store down")
	_, err := AuthorizeCreate(context.Background(), store, fixedCounter{err: wantErr}, "user-1", DefaultLimits)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped counter error", err)
	}
}
