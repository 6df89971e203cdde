package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/accounts"
)

var errInvalidResetToken = common.NewError(common.ErrResetToken, "Invalid or expired reset token")

// ResetTokens issues and checks password reset tokens. Only the SHA-256
// digest of a token is stored; unknown and expired tokens fail identically.
type ResetTokens struct {
	validity time.Duration
	newToken func() (string, error)
}

func NewResetTokens(validity time.Duration) *ResetTokens {
	return &ResetTokens{validity: validity, newToken: cryptox.NewOpaqueToken}
}

// Issue replaces any pending token of accountID and returns the raw value.
func (t *ResetTokens) Issue(ctx context.Context, repo accounts.Repository, accountID string, now time.Time) (string, time.Time, error) {
	raw, err := t.newToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expires := now.Add(t.validity)
	if err := repo.SetResetToken(ctx, accountID, cryptox.DigestToken(raw), expires); err != nil {
		return "", time.Time{}, fmt.Errorf("error storing reset token: %w", err)
	}
	return raw, expires, nil
}

// Verify resolves a live token to its account without consuming it.
func (t *ResetTokens) Verify(ctx context.Context, repo accounts.Repository, raw string, now time.Time) (*models.Account, error) {
	if raw == "" {
		return nil, errInvalidResetToken
	}
	a, err := repo.FindByResetToken(ctx, cryptox.DigestToken(raw), now)
	return t.result(a, err)
}

// Consume validates and clears the token in one storage operation, so at
// most one caller gets the account for a given token.
func (t *ResetTokens) Consume(ctx context.Context, repo accounts.Repository, raw string, now time.Time) (*models.Account, error) {
	if raw == "" {
		return nil, errInvalidResetToken
	}
	a, err := repo.ConsumeResetToken(ctx, cryptox.DigestToken(raw), now)
	return t.result(a, err)
}

func (t *ResetTokens) result(a *models.Account, err error) (*models.Account, error) {
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidResetToken
		}
		return nil, fmt.Errorf("error looking up reset token: %w", err)
	}
	return a, nil
}
