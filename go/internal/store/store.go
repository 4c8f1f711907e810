// Package store defines the shared state store consumed by the timer,
// presence and order subsystems, plus two implementations: an in-process
// Memory store and a NATS JetStream key-value store.
//
// Semantics every implementation must honor: last-write-wins per key, ordered
// delivery of updates per key (no cross-key ordering), and a lease primitive
// that removes a key automatically when the client's connection drops without
// an explicit delete.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ReadOnce for keys with no live value.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// KeySep separates key path segments, e.g. "timers.chobos".
const KeySep = "."

// Event is a single change to a watched key. Value is nil when the key was
// deleted.
type Event struct {
	Key   string
	Value []byte
}

// Snapshot is the full state of a watched key prefix, keyed by full key.
type Snapshot map[string][]byte

// Watcher delivers ordered updates for a single key. The current value, if
// any, is delivered first. Cancel is idempotent and closes the event channel.
type Watcher interface {
	Events() <-chan Event
	Cancel()
}

// PrefixWatcher delivers a full snapshot of the prefix on every change,
// starting with the current state.
type PrefixWatcher interface {
	Snapshots() <-chan Snapshot
	Cancel()
}

// ConnWatcher delivers connectivity transitions. The current state is
// delivered first.
type ConnWatcher interface {
	Changes() <-chan bool
	Cancel()
}

// Store is the key-addressed, subscribe-capable shared state store. All
// operations are safe for concurrent use; writes and deletes may fail and the
// caller decides how to surface that.
type Store interface {
	// Write marshals value as JSON and replaces the key's current value.
	Write(ctx context.Context, key string, value any) error

	// ReadOnce returns the key's current value or ErrNotFound.
	ReadOnce(ctx context.Context, key string) ([]byte, error)

	// Append writes value under a freshly generated key inside collection
	// and returns the full generated key.
	Append(ctx context.Context, collection string, value any) (string, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Watch subscribes to a single key.
	Watch(ctx context.Context, key string) (Watcher, error)

	// WatchPrefix subscribes to every key under prefix.
	WatchPrefix(ctx context.Context, prefix string) (PrefixWatcher, error)

	// Connectivity subscribes to the store's connection state.
	Connectivity(ctx context.Context) (ConnWatcher, error)

	// KeepWhileConnected arranges for key to be deleted automatically when
	// this client's connection drops. The lease is bound to the current
	// connection epoch; re-register after every reconnect.
	KeepWhileConnected(ctx context.Context, key string) error

	// Close releases subscriptions and leased keys.
	Close() error
}
