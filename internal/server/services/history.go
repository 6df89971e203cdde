package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/history"
	"github.com/google/uuid"
)

// PasswordHistory is the append-only ledger of former credentials. Its
// methods take the repository explicitly so they run inside the caller's
// transaction.
type PasswordHistory struct {
	hasher    CredentialHasher
	count     int
	retention int
}

// NewPasswordHistory checks candidates against the count most recent
// entries. A positive retention prunes older entries on every Record.
func NewPasswordHistory(hasher CredentialHasher, count, retention int) *PasswordHistory {
	return &PasswordHistory{hasher: hasher, count: count, retention: retention}
}

// Record archives the outgoing credential of accountID.
func (h *PasswordHistory) Record(ctx context.Context, repo history.Repository, accountID string, cred models.Credential, at time.Time) error {
	entry := &models.CredentialHistoryEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		PasswordHash: cred.Digest,
		Salt:         cred.Salt,
		CreatedAt:    at,
	}
	if err := repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("error recording password history: %w", err)
	}

	if h.retention > 0 {
		if _, err := repo.Prune(ctx, accountID, h.retention); err != nil {
			return fmt.Errorf("error pruning password history: %w", err)
		}
	}
	return nil
}

// RecentEntries returns up to limit entries, newest first.
func (h *PasswordHistory) RecentEntries(ctx context.Context, repo history.Repository, accountID string, limit int) ([]models.CredentialHistoryEntry, error) {
	entries, err := repo.Recent(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("error reading password history: %w", err)
	}
	return entries, nil
}

// CheckReuse fails with common.ErrPasswordReuse when candidate matches the
// active credential or any of the recent history entries.
func (h *PasswordHistory) CheckReuse(ctx context.Context, repo history.Repository, account *models.Account, candidate string) error {
	if h.hasher.Verify(candidate, account.PasswordHash, account.Salt) {
		return h.reuseError()
	}

	entries, err := h.RecentEntries(ctx, repo, account.ID, h.count)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if h.hasher.Verify(candidate, e.PasswordHash, e.Salt) {
			return h.reuseError()
		}
	}
	return nil
}

func (h *PasswordHistory) reuseError() error {
	return common.NewError(common.ErrPasswordReuse,
		fmt.Sprintf("Cannot reuse your current password or any of your last %d passwords", h.count))
}
