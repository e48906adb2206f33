package sqlite

import (
	"context"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestIncrementCounterStartsAtOneAndPersists(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	first, err := store.IncrementCounter(ctx, "audit_cursor")
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first increment to be 1, got %d", first)
	}
	second, err := store.IncrementCounter(ctx, "audit_cursor")
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected second increment to be 2, got %d", second)
	}

	other, err := store.IncrementCounter(ctx, "nonce_watermark")
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if other != 1 {
		t.Fatalf("expected independent key to start at 1, got %d", other)
	}
}
