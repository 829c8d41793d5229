package session

import (
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"kvsd/internal/fifoio"
	"kvsd/internal/wire"
)

// SubscriptionRegistry is the subset of pubsub.Registry a session's RUNNING
// loop needs. Defined here, implemented there, to keep session the
// lower-level package (pubsub.Registry and pubsub.Notifier both operate
// over *session.Session/*session.Table).
type SubscriptionRegistry interface {
	Subscribe(s *Session, key string) error
	Unsubscribe(s *Session, key string) bool
	DropAll(s *Session)
}

// RateLimiter is the subset of ratelimit.Limiter a session throttles its
// request loop with.
type RateLimiter interface {
	Allow() bool
}

// Metrics is the subset of the metrics registry a session reports to.
type Metrics interface {
	SessionOpened()
	SessionClosed()
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened() {}
func (noopMetrics) SessionClosed() {}

// Driver runs one session's RUNNING-state message loop (spec.md §4.D).
// One Driver per active session; the Registrar spawns it as the session's
// owner task after claiming a table slot.
type Driver struct {
	Table    *Table
	Registry SubscriptionRegistry
	Limiter  RateLimiter
	Metrics  Metrics
	Logger   *zap.Logger
}

// NewDriver wires a Driver to its collaborators. metrics/logger may be nil;
// safe no-ops are substituted.
func NewDriver(table *Table, registry SubscriptionRegistry, limiter RateLimiter, metrics Metrics, logger *zap.Logger) *Driver {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{Table: table, Registry: registry, Limiter: limiter, Metrics: metrics, Logger: logger}
}

// Run drives s through RUNNING until DISCONNECT, EOF/error on the request
// FIFO, or forced closure by the admin reaper (which closes s.ReqFile out
// from under this read — spec.md Design Notes, "interruptible wait").
// Run always ends by releasing the slot back to the table.
func (d *Driver) Run(s *Session) {
	d.Metrics.SessionOpened()
	defer func() {
		d.Table.Release(s)
		d.Metrics.SessionClosed()
	}()

	for {
		op, body, err := readRequestFrame(s.ReqFile)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.Logger.Debug("session request read error", zap.Int("session", s.ID), zap.Error(err))
			}
			return
		}

		if d.Limiter != nil && !d.Limiter.Allow() {
			// Frame is already read off the pipe; dropping it here just
			// means the client gets no ACK for this one request. The
			// client-side façade (internal/kvsclient) neither retries nor
			// times out, so its pending ack read keeps waiting.
			continue
		}

		frame, err := wire.DecodeRequestFrame(append([]byte{op}, body...))
		if err != nil {
			d.Logger.Debug("unknown opcode, ignoring", zap.Int("session", s.ID), zap.Error(err))
			continue
		}

		switch frame.Opcode {
		case wire.OpDisconnect:
			d.Registry.DropAll(s)
			d.respond(s, wire.OpDisconnect, 0)
			return

		case wire.OpSubscribe:
			result := byte(0)
			if err := d.Registry.Subscribe(s, frame.Key); err == nil {
				result = 1
			}
			d.respond(s, wire.OpSubscribe, result)

		case wire.OpUnsubscribe:
			result := byte(1)
			if d.Registry.Unsubscribe(s, frame.Key) {
				result = 0
			}
			d.respond(s, wire.OpUnsubscribe, result)
		}
	}
}

// respond writes the 2-byte ack frame to the response FIFO, opening it
// fresh each time (mirrors the source's per-response open/write/close,
// which lets the client pace its own response reads independently of the
// request loop).
func (d *Driver) respond(s *Session, opcode, result byte) {
	f, err := openRespWriter(s.RespPath)
	if err != nil {
		d.Logger.Debug("open response pipe failed", zap.Int("session", s.ID), zap.Error(err))
		return
	}
	defer f.Close()

	ack := wire.ResponseFrame{Opcode: opcode, Result: result}.Encode()
	if _, err := f.Write(ack); err != nil {
		d.Logger.Debug("write response pipe failed", zap.Int("session", s.ID), zap.Error(err))
	}
}

func openRespWriter(path string) (*os.File, error) {
	return fifoio.OpenWriteBlocking(path)
}

// readRequestFrame reads the opcode byte, then however many more bytes
// that opcode's layout calls for (spec.md §4.D table).
func readRequestFrame(r io.Reader) (byte, []byte, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return 0, nil, err
	}
	n, ok := wire.FrameLenForOpcode(opBuf[0])
	if !ok {
		// Unknown opcode: spec.md §4.D says "logged and ignored", but we
		// still need to know how many bytes to discard. Without a known
		// layout there's nothing safe to do but treat it as a 0-length
		// body and let DecodeRequestFrame reject it.
		return opBuf[0], nil, nil
	}
	if n == 0 {
		return opBuf[0], nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return opBuf[0], body, nil
}
