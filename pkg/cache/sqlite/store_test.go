package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "cache_test.db"))

	if err := s.Set(ctx, "snapshot", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	data, ok, err := s.Get(ctx, "snapshot")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected value: %s", data)
	}

	_, ok, err = s.Get(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss for unknown key")
	}
}

func TestSetReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "cache_test.db"))

	_ = s.Set(ctx, "k", []byte("one"))
	_ = s.Set(ctx, "k", []byte("two"))

	data, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("expected replaced value, got %s", data)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "cache_test.db"))

	_ = s.Set(ctx, "k", []byte("v"))
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key to be gone")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache_test.db")

	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Set(ctx, "k", []byte("durable"))
	_ = s.Close()

	reopened := newTestStore(t, path)
	data, ok, err := reopened.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected value after reopen, ok=%v err=%v", ok, err)
	}
	if string(data) != "durable" {
		t.Errorf("unexpected value: %s", data)
	}
}
