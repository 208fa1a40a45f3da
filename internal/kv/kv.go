// Package kv is the ledger's view of the external key-value storage
// service: get/set/delete with optional per-key time-to-live, plus an
// ordered id listing per bucket for the store's pagination indexes. The
// layer knows nothing about tenants or record kinds; namespacing is the
// caller's concern.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no unexpired item exists under a key.
var ErrNotFound = errors.New("kv: item not found")

// ErrAlreadyExists is returned by Create when an unexpired item is
// already present under the key.
var ErrAlreadyExists = errors.New("kv: item already exists")

// Key addresses one item: a bucket (namespace) and an id within it.
type Key struct {
	Bucket string
	ID     string
}

// Store is the storage contract. Implementations must treat Set as a
// full overwrite, make Create atomic with respect to concurrent
// writers, and expire items lazily once their TTL passes.
type Store interface {
	Set(ctx context.Context, key Key, value []byte, ttlSeconds *int64) error
	// Create writes the item only if no unexpired item exists under the
	// key, returning ErrAlreadyExists otherwise.
	Create(ctx context.Context, key Key, value []byte, ttlSeconds *int64) error
	Get(ctx context.Context, key Key) ([]byte, error)
	Delete(ctx context.Context, key Key) error
	// ListIDs returns the ids of all unexpired items in a bucket in
	// lexicographic order.
	ListIDs(ctx context.Context, bucket string) ([]string, error)
}
