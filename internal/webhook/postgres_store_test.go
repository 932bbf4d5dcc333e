//go:build integration

package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fiscalfm/commerce/internal/testutil"
)

func TestPostgresEventStore(t *testing.T) {
	db := testutil.PGTest(t)
	store := NewPostgresEventStore(db)
	ctx := context.Background()

	ev := &Event{
		ID:          "evt_pg_1",
		Type:        "checkout.session.completed",
		PurchaseID:  "pur_pg_1",
		ProcessedAt: time.Now().UTC(),
	}
	if err := store.Record(ctx, ev); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(ctx, ev); !errors.Is(err, ErrEventExists) {
		t.Errorf("duplicate Record() error = %v, want ErrEventExists", err)
	}

	got, err := store.Get(ctx, "evt_pg_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Type != ev.Type || got.PurchaseID != ev.PurchaseID {
		t.Errorf("Get() = %+v, want type/purchase to round-trip", got)
	}

	if _, err := store.Get(ctx, "evt_missing"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrEventNotFound", err)
	}
}

func TestPostgresEventStoreEmptyPurchaseID(t *testing.T) {
	db := testutil.PGTest(t)
	store := NewPostgresEventStore(db)
	ctx := context.Background()

	ev := &Event{ID: "evt_pg_2", Type: "charge.dispute.created", ProcessedAt: time.Now().UTC()}
	if err := store.Record(ctx, ev); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := store.Get(ctx, "evt_pg_2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PurchaseID != "" {
		t.Errorf("PurchaseID = %q, want empty", got.PurchaseID)
	}
}
