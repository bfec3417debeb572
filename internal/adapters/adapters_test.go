package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"funnel_builder_backend/internal/resource/repository"
)

type stubLookup struct {
	res *repository.Resource
	err error
}

func (s stubLookup) ResolveResourceForProduct(context.Context, string, string, string) (*repository.Resource, error) {
	return s.res, s.err
}

func TestResourceProductResolver(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	got, err := NewResourceProductResolver(stubLookup{res: &repository.Resource{ID: id}}).ResolveResourceForProduct(ctx, "exp", "prod_1", "")
	if err != nil || got == nil || *got != id {
		t.Fatalf("expected %s, got %v (err=%v)", id, got, err)
	}

	got, err = NewResourceProductResolver(stubLookup{}).ResolveResourceForProduct(ctx, "exp", "prod_x", "plan_x")
	if err != nil || got != nil {
		t.Fatalf("unknown product should resolve to nil, got %v (err=%v)", got, err)
	}

	boom := errors.New("db down")
	if _, err := NewResourceProductResolver(stubLookup{err: boom}).ResolveResourceForProduct(ctx, "exp", "p", ""); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
