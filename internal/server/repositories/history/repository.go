// Package history persists archived credentials (the password history ledger).
package history

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, entry *models.CredentialHistoryEntry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, accountID string, limit int) ([]models.CredentialHistoryEntry, error)
	// Prune keeps the newest keep entries and deletes the rest.
	Prune(ctx context.Context, accountID string, keep int) (int64, error)
}
