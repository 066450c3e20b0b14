package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "cart.guest", []string{"p1", "p2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []string
	ok, err := s.Get(ctx, "cart.guest", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != "p1" {
		t.Fatalf("unexpected value: %v", got)
	}

	if err := s.Remove(ctx, "cart.guest"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, err = s.Get(ctx, "cart.guest", &got)
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if ok {
		t.Fatalf("expected key absent after remove")
	}
}

func TestMemoryStoreCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetRaw("auth.userData", []byte("{not json"))

	var dest map[string]string
	ok, err := s.Get(ctx, "auth.userData", &dest)
	if err != nil {
		t.Fatalf("get corrupt: %v", err)
	}
	if ok {
		t.Fatalf("corrupt entry should read as absent")
	}

	// The corrupt key must be gone, not fail repeatedly.
	var raw any
	ok, err = s.Get(ctx, "auth.userData", &raw)
	if err != nil || ok {
		t.Fatalf("corrupt key should have been removed: ok=%v err=%v", ok, err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	type session struct {
		Token string `json:"token"`
	}
	if err := s.Set(ctx, "auth.token", session{Token: "abc"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got session
	ok, err := s.Get(ctx, "auth.token", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Token != "abc" {
		t.Fatalf("unexpected token: %q", got.Token)
	}
}

func TestFileStoreCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth.userData.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("plant corrupt file: %v", err)
	}

	var dest map[string]any
	ok, err := s.Get(ctx, "auth.userData", &dest)
	if err != nil {
		t.Fatalf("get corrupt: %v", err)
	}
	if ok {
		t.Fatalf("corrupt entry should read as absent")
	}
	if _, err := os.Stat(filepath.Join(dir, "auth.userData.json")); !os.IsNotExist(err) {
		t.Fatalf("corrupt file should have been removed, stat err: %v", err)
	}
}

func TestFileStoreSimilarKeysStayDistinct(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	if err := s.Set(ctx, "cart.buyer:b1", "scoped"); err != nil {
		t.Fatalf("set colon key: %v", err)
	}
	if err := s.Set(ctx, "cart.buyer_b1", "underscore"); err != nil {
		t.Fatalf("set underscore key: %v", err)
	}
	if err := s.Set(ctx, "cart.buyer/b1", "slash"); err != nil {
		t.Fatalf("set slash key: %v", err)
	}

	for key, want := range map[string]string{
		"cart.buyer:b1": "scoped",
		"cart.buyer_b1": "underscore",
		"cart.buyer/b1": "slash",
	} {
		var got string
		ok, err := s.Get(ctx, key, &got)
		if err != nil || !ok {
			t.Fatalf("get %q: ok=%v err=%v", key, ok, err)
		}
		if got != want {
			t.Fatalf("key %q: got %q want %q", key, got, want)
		}
	}

	if err := s.Remove(ctx, "cart.buyer:b1"); err != nil {
		t.Fatalf("remove colon key: %v", err)
	}
	var got string
	if ok, err := s.Get(ctx, "cart.buyer_b1", &got); err != nil || !ok {
		t.Fatalf("underscore key lost after removing colon key: ok=%v err=%v", ok, err)
	}
}

func TestFileStoreScopedKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Set(ctx, "cart.buyer:buyer-1", []int{1}); err != nil {
		t.Fatalf("set scoped key: %v", err)
	}
	var got []int
	ok, err := s.Get(ctx, "cart.buyer:buyer-1", &got)
	if err != nil || !ok {
		t.Fatalf("get scoped key: ok=%v err=%v", ok, err)
	}
}
