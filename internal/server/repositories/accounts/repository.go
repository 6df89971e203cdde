// Package accounts persists Account rows, including the embedded reset token.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository is the account persistence contract used by the services layer.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	// GetByLogin matches either the username or the email.
	GetByLogin(ctx context.Context, login string) (*models.Account, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdateCredential(ctx context.Context, id string, cred models.Credential, changedAt time.Time) error
	// UpgradeCredential swaps the digest only while the row still holds
	// oldDigest and reports whether it did.
	UpgradeCredential(ctx context.Context, id, oldDigest string, cred models.Credential) (bool, error)
	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error)
	// ConsumeResetToken validates and clears the token in one statement.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error)
}
