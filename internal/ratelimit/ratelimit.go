// Package ratelimit adapts the teacher corpus's per-IP/global connection
// rate limiter (ws/internal/shared/limits.ConnectionRateLimiter) to this
// system's two admission points: the registration FIFO (Registrar) and a
// session's own request FIFO (Session), both of which are soft spots for a
// misbehaving or hostile client to flood.
package ratelimit

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config mirrors spec.md's "recommended defaults" philosophy: sane
// built-in numbers, overridable via internal/config.
type Config struct {
	Burst int
	Rate  float64
}

func (c Config) withDefaults(burst int, r float64) Config {
	if c.Burst <= 0 {
		c.Burst = burst
	}
	if c.Rate <= 0 {
		c.Rate = r
	}
	return c
}

// Limiter wraps a single token-bucket limiter with a logger, used either
// for registration admission (one limiter, shared) or per-session request
// throttling (one limiter per session).
type Limiter struct {
	limiter *rate.Limiter
	logger  *zap.Logger
	name    string
}

// NewRegistrationLimiter bounds how fast the Registrar accepts CONNECT
// frames, protecting the session table from a flood of registration
// attempts (defaults: burst 50, 20/sec sustained).
func NewRegistrationLimiter(cfg Config, logger *zap.Logger) *Limiter {
	cfg = cfg.withDefaults(50, 20)
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:  logger,
		name:    "registration",
	}
}

// NewSessionLimiter bounds how fast a single session's request FIFO is
// serviced, so one noisy client can't starve the notifier fan-out or
// other sessions (defaults: burst 20, 50/sec sustained).
func NewSessionLimiter(cfg Config, logger *zap.Logger) *Limiter {
	cfg = cfg.withDefaults(20, 50)
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:  logger,
		name:    "session",
	}
}

// Allow reports whether the next unit of work (a CONNECT frame, a request
// frame) may proceed right now.
func (l *Limiter) Allow() bool {
	ok := l.limiter.Allow()
	if !ok && l.logger != nil {
		l.logger.Debug("rate limit exceeded", zap.String("limiter", l.name))
	}
	return ok
}
