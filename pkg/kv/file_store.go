package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a durable tier that keeps one JSON file per key under a base
// directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("store base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Get decodes the value stored under key into dest.
func (f *FileStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := os.ReadFile(f.keyPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read key %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// Corrupt entry: drop it and report absent.
		_ = f.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

// Set writes value under key via a temp file rename.
func (f *FileStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	target := f.keyPath(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write key %q: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit key %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (f *FileStore) Remove(_ context.Context, key string) error {
	err := os.Remove(f.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) keyPath(key string) string {
	return filepath.Join(f.basePath, safeKeyFilename(key)+".json")
}

// safeKeyFilename percent-escapes characters that are unsafe in file names.
// Each character gets its own escape so distinct keys never share a file.
func safeKeyFilename(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "key"
	}
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '%':
			b.WriteString("%25")
		case ':':
			b.WriteString("%3a")
		case '/':
			b.WriteString("%2f")
		case '\\':
			b.WriteString("%5c")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
