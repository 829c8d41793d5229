// Package admin implements spec.md §4.G: an out-of-band "evict all
// sessions" trigger, deliverable either by a local signal (SIGHUP) or a
// remote natsbus.ResetSubject publish. Grounded on original_source's
// handle_sigusr1/unsubscribe_all_clients/disconnect_all_clients, reworked
// per spec.md §9 Design Notes ("signal handler doing heavy work → flag +
// dedicated reaper"): the signal path only sets a flag; a dedicated
// goroutine performs the actual tear-down holding the session-table lock.
package admin

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kvsd/internal/session"
)

// Metrics is the subset of the metrics registry the reaper reports to.
type Metrics interface {
	AdminResetTriggered()
	SessionEvicted()
}

type noopMetrics struct{}

func (noopMetrics) AdminResetTriggered() {}
func (noopMetrics) SessionEvicted()      {}

// Reaper owns the reset flag and the goroutine that drains it.
type Reaper struct {
	table   *session.Table
	metrics Metrics
	logger  *zap.Logger

	pending atomic.Bool
	wake    chan struct{}
}

// NewReaper builds a Reaper over table. metrics/logger may be nil.
func NewReaper(table *session.Table, metrics Metrics, logger *zap.Logger) *Reaper {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{table: table, metrics: metrics, logger: logger, wake: make(chan struct{}, 1)}
}

// Trigger marks a reset pending and wakes the reaper goroutine. Safe to
// call from a signal handler or a NATS message callback — it only touches
// an atomic flag and a buffered channel send, never a lock.
func (r *Reaper) Trigger() {
	r.pending.Store(true)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run watches for Trigger calls and performs the tear-down until ctx is
// cancelled. One Reaper serves the whole process; Run should be started
// once from the composition root.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			if r.pending.CompareAndSwap(true, false) {
				r.resetAll()
			}
		}
	}
}

// resetAll implements spec.md §4.G steps 1-3 for every active session:
// drop subscriptions, close and unlink its three pipes, free its slot. The
// owning session task discovers the closed request pipe on its next read
// and exits on its own (spec.md's "interruptible wait" design note) — the
// reaper does not wait for that exit, matching the source's behavior of
// never joining client threads on reset.
func (r *Reaper) resetAll() {
	r.metrics.AdminResetTriggered()
	r.logger.Warn("admin reset triggered: evicting all sessions")

	var victims []*session.Session
	r.table.ForEachActive(func(s *session.Session) {
		victims = append(victims, s)
	})

	for _, s := range victims {
		r.table.Cancel(s)
		r.table.Release(s)
		r.metrics.SessionEvicted()
	}
}

// InstallSignalHandler wires SIGHUP (the conventional "re-read config /
// reset" signal on Unix daemons) to Trigger and returns a stop func that
// undoes the registration. Mirrors the source's sigaction(SIGUSR1, ...)
// but uses Go's signal.Notify instead of installing a C-style handler —
// SIGUSR1 is left free for process supervisors that reserve it for other
// uses.
func (r *Reaper) InstallSignalHandler() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				r.Trigger()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// WaitIdle is a test helper: it polls until the reset flag has been
// consumed, bounding how long a test waits for an asynchronous Trigger to
// take effect.
func (r *Reaper) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !r.pending.Load() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return !r.pending.Load()
}
