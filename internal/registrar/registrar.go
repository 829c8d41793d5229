// Package registrar implements spec.md §4.E: the single listener on the
// well-known registration FIFO that admits new sessions.
package registrar

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"kvsd/internal/fifoio"
	"kvsd/internal/session"
	"kvsd/internal/wire"
)

// RateLimiter throttles registration admission (ratelimit.Limiter
// satisfies this).
type RateLimiter interface {
	Allow() bool
}

// Metrics is the subset of the metrics registry the Registrar reports to.
type Metrics interface {
	SessionRejectedCapacity()
	SessionRejectedRateLimit()
	RegistrationError()
}

type noopMetrics struct{}

func (noopMetrics) SessionRejectedCapacity()  {}
func (noopMetrics) SessionRejectedRateLimit() {}
func (noopMetrics) RegistrationError()        {}

// SessionSpawner starts a session's owner task once the Registrar has
// claimed and acknowledged a slot. Implemented by the composition root
// (cmd/kvsd) so the registrar package doesn't need to know about the
// driver's other collaborators (registry, rate limiter, metrics).
type SessionSpawner func(s *session.Session)

// Registrar owns the registration FIFO and runs its accept loop on the
// caller's goroutine until ctx is cancelled.
type Registrar struct {
	path    string
	table   *session.Table
	spawn   SessionSpawner
	limiter RateLimiter
	metrics Metrics
	logger  *zap.Logger
}

// New builds a Registrar. limiter/metrics/logger may be nil.
func New(path string, table *session.Table, spawn SessionSpawner, limiter RateLimiter, metrics Metrics, logger *zap.Logger) *Registrar {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{path: path, table: table, spawn: spawn, limiter: limiter, metrics: metrics, logger: logger}
}

// Prepare creates the registration FIFO node. Must be called once before
// Run; a failure here is fatal at startup per spec.md §6/§7.
func (r *Registrar) Prepare() error {
	return fifoio.Create(r.path, 0666)
}

// Run loops: open the registration FIFO for reading, read one CONNECT
// frame, close, repeat (spec.md §4.E). It returns when ctx is cancelled or
// the FIFO can no longer be opened (the failure is logged first).
func (r *Registrar) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := fifoio.OpenReadBlocking(r.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("open registration pipe failed", zap.Error(err))
			r.metrics.RegistrationError()
			return
		}

		buf := make([]byte, wire.RegisterFrameLen)
		_, err = io.ReadFull(f, buf)
		_ = f.Close()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Debug("read registration frame failed", zap.Error(err))
			r.metrics.RegistrationError()
			continue
		}

		r.handleFrame(buf)
	}
}

func (r *Registrar) handleFrame(buf []byte) {
	frame, err := wire.DecodeRegisterFrame(buf)
	if err != nil {
		r.logger.Warn("malformed registration frame, ignoring", zap.Error(err))
		r.metrics.RegistrationError()
		return
	}

	if r.limiter != nil && !r.limiter.Allow() {
		r.metrics.SessionRejectedRateLimit()
		r.ack(frame.RespPath, 1)
		return
	}

	s, ok := r.table.Claim(frame.ReqPath, frame.RespPath, frame.NotifPath)
	if !ok {
		r.logger.Warn("session table full, rejecting client")
		r.metrics.SessionRejectedCapacity()
		r.ack(frame.RespPath, 1)
		return
	}

	// Acknowledge success before opening the request pipe for reading:
	// the client is expected to wait for this ack before writing further
	// requests, so by the time it does, the owner task below is already
	// blocked on the read (spec.md §4.E rationale).
	r.ack(frame.RespPath, 0)
	r.spawn(s)
}

func (r *Registrar) ack(respPath string, result byte) {
	f, err := fifoio.OpenWriteBlocking(respPath)
	if err != nil {
		r.logger.Debug("open response pipe for CONNECT ack failed", zap.Error(err))
		return
	}
	defer f.Close()

	ack := wire.ResponseFrame{Opcode: wire.OpConnect, Result: result}.Encode()
	if _, err := f.Write(ack); err != nil {
		r.logger.Debug("write CONNECT ack failed", zap.Error(err))
	}
}

// OpenSessionPipes opens a claimed session's request (blocking read) and
// notification (non-blocking write) FIFOs, then activates the slot into
// RUNNING (spec.md §4.E step 4). Exposed so the composition root can run
// it inside the owner task's own goroutine, after spawning, without the
// registrar package needing to know how sessions are driven.
func OpenSessionPipes(table *session.Table, s *session.Session) (*os.File, func(), error) {
	reqFile, err := fifoio.OpenReadBlocking(s.ReqPath)
	if err != nil {
		return nil, nil, err
	}

	notifFD, err := fifoio.OpenWriteNonBlockingFD(s.NotifPath)
	if err != nil {
		_ = reqFile.Close()
		return nil, nil, err
	}

	respFile, err := os.OpenFile(s.RespPath, os.O_WRONLY, 0)
	if err != nil {
		// Response pipe stays lazily opened per-reply in the session
		// driver; a failure here isn't fatal to the handshake, only to
		// this eager open, so we don't treat it as fatal.
		respFile = nil
	}

	cancel := func() { _ = reqFile.Close() }
	table.Activate(s, reqFile, notifFD, cancel)
	s.RespFile = respFile
	return reqFile, cancel, nil
}
