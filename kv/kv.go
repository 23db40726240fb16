// Package kv defines the ordered key-value engine that tinybase tables and
// indexes are built on, together with three interchangeable backends:
// Bolt (default persistent), Pebble (LSM persistent) and Memory (transient).
//
// An engine is a set of named trees. A tree is a sorted byte-keyed map with
// point operations and in-order iteration; every single-key operation is
// atomic on its own. The engine also hands out strictly increasing uint64
// identifiers, which tinybase uses as record ids.
package kv

import "errors"

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("kv: engine closed")

// Engine represents a key-value storage backend (Bolt, Pebble, in-memory).
type Engine interface {
	// OpenTree opens the named tree, creating it if it doesn't exist.
	OpenTree(name string) (Tree, error)

	// GenerateID returns an identifier greater than any identifier returned
	// before over the lifetime of the engine's data, across restarts for
	// persistent backends. Identifiers are never reused.
	GenerateID() (uint64, error)

	// Close closes the engine. Trees obtained from it must not be used after.
	Close() error
}

// Tree is a named sorted collection of key-value pairs.
type Tree interface {
	// Name returns the name the tree was opened under.
	Name() string

	// Get retrieves a value by key. Returns nil, nil if not found.
	Get(key []byte) ([]byte, error)

	// Insert stores a key-value pair, replacing any previous value.
	Insert(key, value []byte) error

	// Remove deletes a key and returns the previous value, or nil, nil if
	// the key wasn't present.
	Remove(key []byte) ([]byte, error)

	// UpdateAndFetch atomically applies fn to the current value (nil if the
	// key is absent) and stores the result, deleting the key when fn returns
	// nil. Returns the new value. fn may be called with a value that is only
	// valid for the duration of the call.
	UpdateAndFetch(key []byte, fn func(old []byte) []byte) ([]byte, error)

	// ForEach calls fn for every pair in ascending byte order of keys.
	// The slices passed to fn are only valid for the duration of the call.
	// Returning an error from fn stops the iteration and is passed through.
	ForEach(fn func(key, value []byte) error) error

	// Len returns the number of pairs in the tree.
	Len() (int, error)

	// Clear removes every pair from the tree.
	Clear() error
}
