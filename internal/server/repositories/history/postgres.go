package history

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, entry *models.CredentialHistoryEntry) error {

	query :=
		`INSERT INTO password_history (id, account_id, password_hash, salt, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.AccountID, entry.PasswordHash, entry.Salt, entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// Recent orders by creation time and breaks ties by insertion sequence.
func (r *PostgresRepository) Recent(ctx context.Context, accountID string, limit int) ([]models.CredentialHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query :=
		`SELECT id, account_id, password_hash, salt, created_at
		 FROM password_history
		 WHERE account_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	entries := make([]models.CredentialHistoryEntry, 0, limit)
	for rows.Next() {
		var e models.CredentialHistoryEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.PasswordHash, &e.Salt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}

func (r *PostgresRepository) Prune(ctx context.Context, accountID string, keep int) (int64, error) {
	query :=
		`DELETE FROM password_history
		 WHERE account_id = $1
		   AND id NOT IN (
		     SELECT id FROM password_history
		     WHERE account_id = $1
		     ORDER BY created_at DESC, seq DESC
		     LIMIT $2
		   )`

	res, err := r.db.ExecContext(ctx, query, accountID, keep)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
