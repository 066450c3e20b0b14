package kv

import "context"

// Store is a keyed persistent store. Values are serialized to JSON on write
// and decoded on read. Implementations come in two tiers: durable (survives
// restarts: FileStore, RedisStore, GormStore) and ephemeral (MemoryStore).
//
// Malformed stored JSON is never surfaced as an error: Get reports the key
// as absent and removes it so the next read starts clean. Every subsystem
// reading durable state relies on this self-heal.
type Store interface {
	// Get decodes the value stored under key into dest and reports whether
	// the key was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}
