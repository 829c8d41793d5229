// Package pubsub implements the subscription registry and mutation
// notifier described in spec.md §4.B/§4.C: it tracks which sessions
// subscribe to which keys and fans out a notification record to every
// subscriber whenever the Store commits a write or delete.
package pubsub

import (
	"errors"

	"kvsd/internal/session"
	"kvsd/internal/wire"
)

// Subscribe outcomes, mapped to wire ACK bytes by the session layer
// (spec.md §4.D: subscribe success=1/failure=0).
var (
	ErrNoSuchKey         = errors.New("pubsub: no such key")
	ErrAlreadySubscribed = errors.New("pubsub: already subscribed")
	ErrCapacity          = errors.New("pubsub: subscription capacity reached")
)

// existsChecker is the subset of store.Store the registry needs. Defined
// here (rather than importing store directly) only to keep the dependency
// direction obvious: pubsub depends on whatever exposes Exists.
type existsChecker interface {
	Exists(key string) (bool, error)
}

// Registry implements spec.md §4.B over a session.Table and a Store.
type Registry struct {
	table *session.Table
	store existsChecker
	maxSubsPerSession int
}

// NewRegistry wires a subscription registry to its backing table and store.
func NewRegistry(table *session.Table, store existsChecker, maxSubsPerSession int) *Registry {
	if maxSubsPerSession <= 0 {
		maxSubsPerSession = wire.MaxSubsPerSession
	}
	return &Registry{table: table, store: store, maxSubsPerSession: maxSubsPerSession}
}

// Subscribe appends key to s's subscribed set. The existence check and the
// insert happen under one table-lock critical section (spec.md §4.B: "the
// subscribe race between Store.exists and the subsequent registration is
// resolved by holding the registry's session lock across the check and the
// insert"). The key may be deleted from the store between this check and
// the first notification — that's accepted per spec.md §7.
func (r *Registry) Subscribe(s *session.Session, key string) error {
	var outcome error
	r.table.WithLock(func() {
		exists, err := r.store.Exists(key)
		if err != nil || !exists {
			outcome = ErrNoSuchKey
			return
		}
		for _, k := range s.SubscribedKeys {
			if k == key {
				outcome = ErrAlreadySubscribed
				return
			}
		}
		if len(s.SubscribedKeys) >= r.maxSubsPerSession {
			outcome = ErrCapacity
			return
		}
		s.SubscribedKeys = append(s.SubscribedKeys, key)
	})
	return outcome
}

// Unsubscribe removes key from s's subscribed set if present. Order of the
// remaining keys is preserved (spec.md §4.B).
func (r *Registry) Unsubscribe(s *session.Session, key string) (wasSubscribed bool) {
	r.table.WithLock(func() {
		for i, k := range s.SubscribedKeys {
			if k == key {
				s.SubscribedKeys = append(s.SubscribedKeys[:i], s.SubscribedKeys[i+1:]...)
				wasSubscribed = true
				return
			}
		}
	})
	return wasSubscribed
}

// DropAll empties s's subscribed set. Used by DISCONNECT (spec.md §4.B);
// the admin reset sweep clears subscriptions through Table.Release instead.
// It takes the table lock, which is not recursive, so it must not be called
// while that lock is already held.
func (r *Registry) DropAll(s *session.Session) {
	r.table.WithLock(func() {
		s.SubscribedKeys = nil
	})
}
