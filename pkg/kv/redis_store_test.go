package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	redis := miniredis.RunT(t)
	s := NewRedisStore(redis.Addr(), "", "test")

	if err := s.Set(ctx, "favorites.buyer-1", []string{"p1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []string
	ok, err := s.Get(ctx, "favorites.buyer-1", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0] != "p1" {
		t.Fatalf("unexpected value: %v", got)
	}

	if err := s.Remove(ctx, "favorites.buyer-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := s.Get(ctx, "favorites.buyer-1", &got); ok {
		t.Fatalf("expected key absent after remove")
	}
}

func TestRedisStoreCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	redis := miniredis.RunT(t)
	s := NewRedisStore(redis.Addr(), "", "test")

	if err := redis.Set("test:auth.userData", "{not json"); err != nil {
		t.Fatalf("plant corrupt value: %v", err)
	}

	var dest map[string]any
	ok, err := s.Get(ctx, "auth.userData", &dest)
	if err != nil {
		t.Fatalf("get corrupt: %v", err)
	}
	if ok {
		t.Fatalf("corrupt entry should read as absent")
	}
	if redis.Exists("test:auth.userData") {
		t.Fatalf("corrupt key should have been removed")
	}
}
