// Package store defines the storage abstraction behind the alias
// directory, the transaction ledger and the dispatcher's idempotency
// records. Components receive a Store by injection; production binds the
// SQLite implementation, tests bind the in-memory one. There are no
// process-wide singletons.
package store

import "errors"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is a bucketed key-value store with an atomic compare-and-swap.
// Keys within a bucket preserve insertion order, which callers rely on
// for deterministic listings.
type Store interface {
	// Get returns the value for key in bucket. The boolean reports
	// whether the key exists.
	Get(bucket, key string) ([]byte, bool, error)

	// Put stores value under key in bucket, creating or replacing it.
	Put(bucket, key string, value []byte) error

	// Delete removes key from bucket. Deleting an absent key is not an
	// error.
	Delete(bucket, key string) error

	// CompareAndSwap atomically replaces the value under key only if the
	// current value equals old. A nil old means "insert only if absent".
	// Returns true if the swap was applied.
	CompareAndSwap(bucket, key string, old, new []byte) (bool, error)

	// Keys returns all keys in bucket in insertion order.
	Keys(bucket string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
