package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	if err := kv.Save(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := kv.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Load = %q, want v1", got)
	}

	ok, err := kv.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}
	ok, err = kv.Exists(ctx, "absent")
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v; want false, nil", ok, err)
	}
}

func TestMemoryLoadMissing(t *testing.T) {
	kv := NewMemory()
	if _, err := kv.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	if err := kv.Save(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after delete: err = %v, want ErrNotFound", err)
	}
	// Deleting an absent key is not an error.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	original := []byte("abc")
	if err := kv.Save(ctx, "k", original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	original[0] = 'z'

	got, err := kv.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'z'
	again, _ := kv.Load(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("loaded value aliased store: %q", again)
	}
}
