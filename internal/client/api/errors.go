package api

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// ErrUnavailable wraps transport failures: refused connections, DNS
// errors and timeouts.
var ErrUnavailable = errors.New("server unavailable")

// Error is a failure reported by the server.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
	// RetryAfter is set for lockouts and rate limiting.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Message
}

var kindSentinels = map[string]error{
	"PolicyError":         common.ErrPolicy,
	"ReuseError":          common.ErrPasswordReuse,
	"AuthenticationError": common.ErrorUnauthorized,
	"ValidationError":     common.ErrValidation,
	"NotFoundError":       common.ErrorNotFound,
	"TokenError":          common.ErrResetToken,
	"LockoutError":        common.ErrLockedOut,
	"InternalError":       common.ErrorInternal,
}

// Unwrap lets callers match server errors with errors.Is and the common
// sentinels.
func (e *Error) Unwrap() error {
	return kindSentinels[e.Kind]
}
