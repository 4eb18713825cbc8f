package store

import (
	"iter"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultBuckets is the bucket count used when none is configured.
const DefaultBuckets = 26

type entry struct {
	key   string
	value string
	next  *entry
}

// Table is a chained hash table with a fixed number of buckets.
//
// The bucket count is fixed at construction. Keys are assigned to buckets by
// xxhash; enumeration order is unspecified.
type Table struct {
	mu      sync.RWMutex
	buckets []*entry
	size    int
	nb      int
	live    bool
}

// NewTable creates an initialized [Table]. A non-positive bucket count
// selects [DefaultBuckets].
func NewTable(buckets int) *Table {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	return &Table{
		buckets: make([]*entry, buckets),
		nb:      buckets,
		live:    true,
	}
}

// Init re-initializes a closed table with empty buckets.
func (t *Table) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live {
		return ErrAlreadyInitialized
	}
	t.buckets = make([]*entry, t.nb)
	t.size = 0
	t.live = true
	return nil
}

// Close frees every entry. Subsequent operations return [ErrNotInitialized]
// until [Table.Init] is called.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live {
		return ErrNotInitialized
	}
	t.buckets = nil
	t.size = 0
	t.live = false
	return nil
}

func (t *Table) index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(t.nb))
}

// Write inserts or replaces the value for key.
func (t *Table) Write(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if len(value) > MaxStringSize {
		return ErrTooLong
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live {
		return ErrNotInitialized
	}

	i := t.index(key)
	for e := t.buckets[i]; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			return nil
		}
	}
	t.buckets[i] = &entry{key: key, value: value, next: t.buckets[i]}
	t.size++
	return nil
}

// Read returns the value for key and whether it was present.
func (t *Table) Read(key string) (string, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.live {
		return "", false, ErrNotInitialized
	}
	for e := t.buckets[t.index(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.value, true, nil
		}
	}
	return "", false, nil
}

// Delete removes key and reports whether it was present.
func (t *Table) Delete(key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live {
		return false, ErrNotInitialized
	}

	i := t.index(key)
	var prev *entry
	for e := t.buckets[i]; e != nil; prev, e = e, e.next {
		if e.key != key {
			continue
		}
		if prev == nil {
			t.buckets[i] = e.next
		} else {
			prev.next = e.next
		}
		t.size--
		return true, nil
	}
	return false, nil
}

// All enumerates entries bucket by bucket. Each bucket is copied under the
// read lock and yielded after the lock is released, so the loop body may
// call back into the table.
func (t *Table) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for i := 0; ; i++ {
			pairs, ok := t.bucket(i)
			if !ok {
				return
			}
			for _, p := range pairs {
				if !yield(p.Key, p.Value) {
					return
				}
			}
		}
	}
}

// bucket copies bucket i. ok is false past the last bucket or once closed.
func (t *Table) bucket(i int) ([]Pair, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.live || i >= len(t.buckets) {
		return nil, false
	}
	var pairs []Pair
	for e := t.buckets[i]; e != nil; e = e.next {
		pairs = append(pairs, Pair{Key: e.key, Value: e.value})
	}
	return pairs, true
}

// Snapshot copies every entry under a single read lock.
func (t *Table) Snapshot() ([]Pair, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.live {
		return nil, ErrNotInitialized
	}
	pairs := make([]Pair, 0, t.size)
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			pairs = append(pairs, Pair{Key: e.key, Value: e.value})
		}
	}
	return pairs, nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}
