package store

import (
	"errors"
	"iter"
)

// MaxStringSize is the maximum length in bytes of a key or a value.
const MaxStringSize = 40

var (
	// ErrNotInitialized is returned by every operation on a closed table.
	ErrNotInitialized = errors.New("store: not initialized")

	// ErrAlreadyInitialized is returned by Init on a live table.
	ErrAlreadyInitialized = errors.New("store: already initialized")

	// ErrEmptyKey is returned when writing an empty key.
	ErrEmptyKey = errors.New("store: empty key")

	// ErrTooLong is returned when a key or value exceeds MaxStringSize.
	ErrTooLong = errors.New("store: key or value too long")
)

// Pair is a single key-value entry.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store defines the operations on the shared key-value table.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Write inserts or replaces the value for key.
	Write(key, value string) error

	// Read returns the value for key. ok is false when the key is absent,
	// which is distinct from a present key holding an empty value.
	Read(key string) (value string, ok bool, err error)

	// Delete removes key and reports whether it was present.
	Delete(key string) (found bool, err error)

	// All enumerates every entry lazily. Each call restarts from the first
	// bucket; entries mutated during enumeration may or may not be seen.
	All() iter.Seq2[string, string]

	// Snapshot returns a point-in-time copy of every entry.
	Snapshot() ([]Pair, error)

	// Len returns the number of entries.
	Len() int
}

// Observer receives committed mutations.
type Observer interface {
	KeyWritten(key, value string)
	KeyDeleted(key string)
}

// ValidateKey checks the key constraints enforced on writes.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxStringSize {
		return ErrTooLong
	}
	return nil
}
