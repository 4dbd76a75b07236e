package keystore

import "context"

// Store reads and writes an API key to persistent storage.
type Store interface {
	// Read returns the stored key. Returns error if the key is missing or empty.
	Read(ctx context.Context) (string, error)

	// Write persists the key to storage. Returns error if the storage
	// backend is read-only (e.g., environment variables) or if the write fails.
	Write(ctx context.Context, key string) error
}
