// Package session implements the per-client state machine and the
// fixed-capacity session table described in spec.md §3/§4.D: each active
// session owns three FIFOs (request, response, notification) and an
// ordered, duplicate-free set of subscribed keys.
package session

import (
	"os"
	"sync"
	"sync/atomic"

	"kvsd/internal/fifoio"
	"kvsd/internal/wire"
)

// State is a slot's lifecycle state: StateFree for an unused slot, or one
// of the four session lifecycle states from spec.md §4.D.
type State int

const (
	StateFree State = iota
	StateOpening
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one slot in the table. All fields except those explicitly
// documented as self-synchronized are protected by the owning Table's lock
// (spec.md §5: the session-table lock is held across allocation,
// activation, deactivation, and subscription mutation).
type Session struct {
	ID     int
	Active bool
	State  State

	ReqPath   string
	RespPath  string
	NotifPath string

	ReqFile  *os.File
	RespFile *os.File
	// NotifFD is a raw, non-blocking write descriptor for the notification
	// FIFO (see internal/fifoio for why this isn't an *os.File). -1 means
	// unset.
	NotifFD int

	// SubscribedKeys preserves insertion order; duplicates are rejected
	// on insert (spec.md §3 invariant).
	SubscribedKeys []string

	// Lossy is set once a notification write to this session's sink would
	// have blocked and was dropped instead (spec.md §4.C). Written by the
	// Notifier while only the table's reader lock is held, so it's atomic.
	Lossy atomic.Bool

	// cancel unblocks this session's in-flight request read from the
	// admin reaper by closing the request FIFO out of band (Design Notes:
	// "interruptible wait").
	cancel func()
}

// Table is the fixed-capacity session table (spec.md §3, capacity
// MaxSessions). The zero value is not usable; use NewTable.
type Table struct {
	mu    sync.RWMutex
	slots []Session
}

// NewTable allocates a table with the given capacity (spec.md default 32).
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = wire.MaxSessions
	}
	t := &Table{slots: make([]Session, capacity)}
	for i := range t.slots {
		t.slots[i].ID = i
		t.slots[i].NotifFD = -1
	}
	return t
}

// Capacity returns the table's fixed slot count.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Claim atomically finds a free slot and marks it active in StateOpening.
// Returns ok=false if every slot is occupied (spec.md §4.E step 1: the
// Registrar responds CONNECT/1 in that case without spawning anything).
func (t *Table) Claim(reqPath, respPath, notifPath string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].Active {
			s := &t.slots[i]
			s.Active = true
			s.State = StateOpening
			s.ReqPath = reqPath
			s.RespPath = respPath
			s.NotifPath = notifPath
			s.SubscribedKeys = nil
			s.Lossy.Store(false)
			s.ReqFile, s.RespFile, s.NotifFD = nil, nil, -1
			s.cancel = nil
			return s, true
		}
	}
	return nil, false
}

// Activate transitions a claimed slot into StateRunning once its owner
// task has opened all three pipes (spec.md §4.E step 4).
func (t *Table) Activate(s *Session, reqFile *os.File, notifFD int, cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.ReqFile = reqFile
	s.NotifFD = notifFD
	s.cancel = cancel
	s.State = StateRunning
}

// Release tears a slot down: drops subscriptions, closes and unlinks its
// three FIFOs, and marks the slot free. Used by DISCONNECT, the admin
// reaper, and fatal session I/O errors alike (spec.md §4.D/§4.G). The
// state moves to StateClosing and then StateClosed within one critical
// section, so other goroutines only ever see StateClosed; the slot is
// marked free in that same section, and its FIFOs are closed and unlinked
// after the lock is released.
func (t *Table) Release(s *Session) {
	t.mu.Lock()
	s.State = StateClosing
	s.SubscribedKeys = nil

	reqFile, respFile, notifFD := s.ReqFile, s.RespFile, s.NotifFD
	reqPath, respPath, notifPath := s.ReqPath, s.RespPath, s.NotifPath

	s.ReqFile, s.RespFile, s.NotifFD = nil, nil, -1
	s.Active = false
	s.Lossy.Store(false)
	s.cancel = nil
	s.State = StateClosed
	t.mu.Unlock()

	if reqFile != nil {
		_ = reqFile.Close()
	}
	if respFile != nil {
		_ = respFile.Close()
	}
	_ = fifoio.CloseFD(notifFD)
	if reqPath != "" {
		_ = os.Remove(reqPath)
	}
	if respPath != "" {
		_ = os.Remove(respPath)
	}
	if notifPath != "" {
		_ = os.Remove(notifPath)
	}
}

// Cancel unblocks a session's in-flight request read without taking the
// table lock for the I/O itself — only to read the cancel func under lock.
func (t *Table) Cancel(s *Session) {
	t.mu.RLock()
	cancel := s.cancel
	t.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// ForEachActive invokes fn for every active session under a single reader
// lock. fn must not mutate the table (use the mutation methods for that);
// this is the primitive the Notifier fan-out and admin reaper build on.
func (t *Table) ForEachActive(fn func(*Session)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		if t.slots[i].Active {
			fn(&t.slots[i])
		}
	}
}

// WithLock runs fn holding the table's exclusive lock. Used by the
// subscription registry to hold the lock across the store existence check
// and the subscribed-key insert (spec.md §4.B race resolution).
func (t *Table) WithLock(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
}

// MarkLossy records that a notification write to s's sink was dropped.
// Called by the Notifier while it already holds the table's reader lock
// via ForEachActive, so this takes no additional lock itself — callers
// must only invoke it from within that callback.
func MarkLossy(s *Session) {
	s.Lossy.Store(true)
}

// ActiveCount returns the number of occupied slots.
func (t *Table) ActiveCount() int {
	var n int
	t.ForEachActive(func(*Session) { n++ })
	return n
}
