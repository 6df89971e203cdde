package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// PasswordValidator enforces the password policy.
type PasswordValidator interface {
	Validate(candidate string) error
}

// CredentialHasher derives and checks salted password digests.
type CredentialHasher interface {
	Hash(plaintext string) (digest, salt string, err error)
	Verify(plaintext, digest, salt string) bool
	NeedsRehash(digest string) bool
}

// LoginLimiter tracks failed logins per submitted identifier.
type LoginLimiter interface {
	IsBlocked(ctx context.Context, key string) (bool, time.Time, error)
	RecordFailure(ctx context.Context, key string) (int, error)
	ResetOnSuccess(ctx context.Context, key string) error
}

// Notifier delivers reset tokens out of band.
type Notifier interface {
	PasswordResetRequested(ctx context.Context, notice models.PasswordResetNotice) error
}

// Outcome labels reported to AuthMetrics.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeLocked   = "locked"
)

// AuthMetrics receives one call per finished flow.
type AuthMetrics interface {
	Registration(outcome string)
	Login(outcome string)
	PasswordChange(outcome string)
	PasswordReset(stage, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) Registration(string)          {}
func (nopMetrics) Login(string)                 {}
func (nopMetrics) PasswordChange(string)        {}
func (nopMetrics) PasswordReset(string, string) {}
