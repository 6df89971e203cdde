// Package ratelimit implements the login lockout: consecutive failures per
// login identifier are counted, and reaching the threshold blocks the
// identifier for a fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Record is the stored state for one identifier. A zero Record means no
// failures are on file.
type Record struct {
	Failures     int
	BlockedUntil time.Time
}

// Store persists records. Incr must be atomic per key.
type Store interface {
	// Get returns the record for key, or a zero Record when absent.
	Get(ctx context.Context, key string) (Record, error)

	// Incr adds one failure and returns the new count.
	Incr(ctx context.Context, key string) (int, error)

	// Block sets the blocked-until instant for key.
	Block(ctx context.Context, key string, until time.Time) error

	// Delete removes the record for key.
	Delete(ctx context.Context, key string) error
}

// Config controls the lockout policy.
type Config struct {
	// MaxAttempts is the number of failures that triggers a lockout.
	MaxAttempts int
	// Lockout is how long an identifier stays blocked.
	Lockout time.Duration
	// Rearm keeps the failure count after a lockout expires, so the next
	// check blocks again until a successful login clears the record. When
	// false an expired lockout clears the record.
	Rearm bool
}

// DefaultConfig returns 3 attempts, a 15 minute lockout and no re-arming.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Lockout: 15 * time.Minute}
}

// Limiter is safe for concurrent use when its Store is.
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewLimiter builds a limiter over store.
func NewLimiter(store Store, cfg Config) (*Limiter, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max login attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Lockout <= 0 {
		return nil, fmt.Errorf("lockout duration must be positive, got %s", cfg.Lockout)
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}, nil
}

// IsBlocked reports whether key is currently locked out and until when.
func (l *Limiter) IsBlocked(ctx context.Context, key string) (bool, time.Time, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("load login attempts: %w", err)
	}

	now := l.now()
	if now.Before(rec.BlockedUntil) {
		return true, rec.BlockedUntil, nil
	}
	if rec.Failures < l.cfg.MaxAttempts {
		return false, time.Time{}, nil
	}

	// threshold reached and the window, if any, has elapsed
	if l.cfg.Rearm {
		until := now.Add(l.cfg.Lockout)
		if err := l.store.Block(ctx, key, until); err != nil {
			return false, time.Time{}, fmt.Errorf("re-arm lockout: %w", err)
		}
		return true, until, nil
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return false, time.Time{}, fmt.Errorf("clear expired lockout: %w", err)
	}
	return false, time.Time{}, nil
}

// RecordFailure counts a failed login and starts the lockout once the
// threshold is reached. It returns the attempts left before lockout.
func (l *Limiter) RecordFailure(ctx context.Context, key string) (int, error) {
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	if n >= l.cfg.MaxAttempts {
		if err := l.store.Block(ctx, key, l.now().Add(l.cfg.Lockout)); err != nil {
			return 0, fmt.Errorf("start lockout: %w", err)
		}
		return 0, nil
	}
	return l.cfg.MaxAttempts - n, nil
}

// ResetOnSuccess clears all state for key.
func (l *Limiter) ResetOnSuccess(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// RemainingAttempts returns how many failures key may still accrue before
// being locked out. It does not modify state.
func (l *Limiter) RemainingAttempts(ctx context.Context, key string) (int, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load login attempts: %w", err)
	}
	if l.now().Before(rec.BlockedUntil) {
		return 0, nil
	}
	if rec.Failures >= l.cfg.MaxAttempts {
		if l.cfg.Rearm {
			return 0, nil
		}
		return l.cfg.MaxAttempts, nil
	}
	return l.cfg.MaxAttempts - rec.Failures, nil
}

// BlockedUntil returns the end of the active lockout for key, or the zero
// time when key is not blocked.
func (l *Limiter) BlockedUntil(ctx context.Context, key string) (time.Time, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("load login attempts: %w", err)
	}
	if l.now().Before(rec.BlockedUntil) {
		return rec.BlockedUntil, nil
	}
	return time.Time{}, nil
}
