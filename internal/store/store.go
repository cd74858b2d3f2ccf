// Package store provides the key-value persistence contract every engine
// store is built on, plus SQLite and in-memory implementations.
package store

import (
	"context"
	"strings"
)

// Namespaces partition the key space by store type.
const (
	NamespaceSession   = "session"
	NamespacePlan      = "plan"
	NamespaceLedger    = "ledger"
	NamespacePositions = "positions"
	NamespaceAlerts    = "alerts"
	NamespacePrefs     = "prefs"
)

// Key addresses one value. Every key is scoped to a namespace and a user;
// ID is optional and distinguishes several values of one user.
type Key struct {
	Namespace string
	UserID    string
	ID        string
}

// UserKey returns the key for a per-user singleton value.
func UserKey(namespace, userID string) Key {
	return Key{Namespace: namespace, UserID: userID}
}

// String renders the key as namespace/user[/id].
func (k Key) String() string {
	parts := []string{k.Namespace, k.UserID}
	if k.ID != "" {
		parts = append(parts, k.ID)
	}
	return strings.Join(parts, "/")
}

// KV is the minimal get/set/delete primitive. Get returns (nil, nil) when
// the key is absent.
type KV interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
}

// Store is a KV with transactions and per-user serialization.
type Store interface {
	KV

	// Update runs fn inside a transaction. Writes made through tx become
	// visible only if fn returns nil; any error discards all of them.
	Update(ctx context.Context, fn func(tx KV) error) error

	// List returns all keys in a namespace, ordered by user and id.
	List(ctx context.Context, namespace string) ([]Key, error)

	// Lock acquires the exclusive per-user lock and returns its release
	// function. Callers hold it for the whole read-verify-write sequence of
	// one user operation.
	Lock(userID string) (unlock func())

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
