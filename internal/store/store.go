// Package store implements the sharded key-value table described in
// spec.md §3/§4.A: a fixed array of shards, each an independent
// reader/writer-locked collision chain, indexed by the key's first byte.
package store

import (
	"fmt"
	"sort"
	"sync"

	"kvsd/internal/wire"
)

// ErrInvalidKey is returned when a key's leading byte doesn't map to a shard
// (spec.md §3: letters a-z in either case and digits 0-9 only).
var ErrInvalidKey = fmt.Errorf("store: invalid key")

// Notifier is the fan-out hook a mutation calls after it commits and
// releases its shard lock (spec.md §4.A, §5 lock ordering).
type Notifier interface {
	Publish(key, value string)
}

type entry struct {
	key   string
	value string
	next  *entry
}

type shard struct {
	mu   sync.RWMutex
	head *entry
}

// Store is the sharded KVS engine. The zero value is not usable; use New.
type Store struct {
	shards   []shard
	notifier Notifier
}

// New creates a Store with the given shard count. A Notifier may be nil
// during tests that don't care about fan-out; production wiring always
// supplies the pubsub Notifier.
func New(shardCount int, notifier Notifier) *Store {
	if shardCount <= 0 {
		shardCount = wire.NShards
	}
	return &Store{
		shards:   make([]shard, shardCount),
		notifier: notifier,
	}
}

// ShardCount returns the number of shards this store was built with.
func (s *Store) ShardCount() int {
	return len(s.shards)
}

// Hash computes the shard index for a key's first byte, or -1 if the key's
// leading byte is neither a letter nor a digit. Upper-case letters are folded
// to lower case, so "Apple" and "apple" share a shard. Keys longer than
// one byte hash on that single leading byte only, matching spec.md §3 and
// the source's collision-heavy design choice (kept for wire compatibility;
// see DESIGN.md).
func Hash(key string, shardCount int) int {
	if key == "" {
		return -1
	}
	c := key[0]
	switch {
	case c >= 'a' && c <= 'z':
		return int(c-'a') % shardCount
	case c >= 'A' && c <= 'Z':
		return int(c-'A') % shardCount
	case c >= '0' && c <= '9':
		return int(c-'0') % shardCount
	default:
		return -1
	}
}

func (s *Store) shardFor(key string) (*shard, int, error) {
	idx := Hash(key, len(s.shards))
	if idx < 0 {
		return nil, -1, ErrInvalidKey
	}
	return &s.shards[idx], idx, nil
}

// Put inserts or overwrites key=value. Notification fires unconditionally
// after the mutation commits and the shard lock is released, even if the
// new value is identical to the old one (spec.md §9 Open Question: the
// source fires unconditionally, so this implementation matches).
func (s *Store) Put(key, value string) error {
	sh, _, err := s.shardFor(key)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	found := false
	for e := sh.head; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			found = true
			break
		}
	}
	if !found {
		sh.head = &entry{key: key, value: value, next: sh.head}
	}
	sh.mu.Unlock()

	if s.notifier != nil {
		s.notifier.Publish(key, value)
	}
	return nil
}

// Get returns a copy of the stored value, or ok=false if absent or the key
// is malformed.
func (s *Store) Get(key string) (string, bool, error) {
	sh, _, err := s.shardFor(key)
	if err != nil {
		return "", false, err
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for e := sh.head; e != nil; e = e.next {
		if e.key == key {
			return e.value, true, nil
		}
	}
	return "", false, nil
}

// Exists reports whether key is present, without copying its value.
func (s *Store) Exists(key string) (bool, error) {
	sh, _, err := s.shardFor(key)
	if err != nil {
		return false, err
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for e := sh.head; e != nil; e = e.next {
		if e.key == key {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes key if present, firing a tombstone notification
// (spec.md §3 TOMBSTONE = "DELETED") after the shard lock is released.
// Returns whether a removal occurred.
func (s *Store) Delete(key string) (bool, error) {
	sh, _, err := s.shardFor(key)
	if err != nil {
		return false, err
	}

	sh.mu.Lock()
	var prev *entry
	removed := false
	for e := sh.head; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				sh.head = e.next
			} else {
				prev.next = e.next
			}
			removed = true
			break
		}
		prev = e
	}
	sh.mu.Unlock()

	if removed && s.notifier != nil {
		s.notifier.Publish(key, wire.TombstoneValue)
	}
	return removed, nil
}

// Pair is a single key/value snapshot entry returned by Show.
type Pair struct {
	Key   string
	Value string
}

// Show acquires every shard lock in shared mode, index order, emits a full
// snapshot, then releases in reverse order (spec.md §4.A rationale: avoids
// a single global lock while still avoiding torn reads of any one pair).
// Ordering within a shard is unspecified; across shards it is ascending
// shard index.
func (s *Store) Show() []Pair {
	for i := range s.shards {
		s.shards[i].mu.RLock()
	}
	defer func() {
		for i := len(s.shards) - 1; i >= 0; i-- {
			s.shards[i].mu.RUnlock()
		}
	}()

	var out []Pair
	for i := range s.shards {
		for e := s.shards[i].head; e != nil; e = e.next {
			out = append(out, Pair{Key: e.key, Value: e.value})
		}
	}
	return out
}

// ShowSorted is a test/diagnostic convenience: Show with a deterministic
// key ordering, since §4.A leaves intra-shard ordering unspecified.
func (s *Store) ShowSorted() []Pair {
	pairs := s.Show()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}
