package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

const accountColumns = `id, username, email, password_hash, salt, password_changed_at, reset_token_hash, reset_expires, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Salt,
		&a.PasswordChangedAt, &a.ResetTokenHash, &a.ResetExpires, &a.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {

	query :=
		`INSERT INTO accounts (id, username, email, password_hash, salt, password_changed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash, account.Salt,
		account.PasswordChangedAt, account.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, username))
}

// GetByLogin prefers an email match when a username happens to equal
// another account's email.
func (r *PostgresRepository) GetByLogin(ctx context.Context, login string) (*models.Account, error) {
	query :=
		`SELECT ` + accountColumns + ` FROM accounts
		 WHERE username = $1 OR email = $1
		 ORDER BY (email = $1) DESC
		 LIMIT 1`
	return scanAccount(r.db.QueryRowContext(ctx, query, login))
}

func (r *PostgresRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1 OR email = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

func (r *PostgresRepository) UpdateCredential(ctx context.Context, id string, cred models.Credential, changedAt time.Time) error {
	query :=
		`UPDATE accounts SET password_hash = $2, salt = $3, password_changed_at = $4
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, cred.Digest, cred.Salt, changedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// UpgradeCredential rewrites the digest in place, leaving
// password_changed_at alone. A rotation committed since oldDigest was read
// makes it match nothing.
func (r *PostgresRepository) UpgradeCredential(ctx context.Context, id, oldDigest string, cred models.Credential) (bool, error) {
	query :=
		`UPDATE accounts SET password_hash = $3, salt = $4
		 WHERE id = $1 AND password_hash = $2`

	res, err := r.db.ExecContext(ctx, query, id, oldDigest, cred.Digest, cred.Salt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// SetResetToken overwrites any pending token for the account.
func (r *PostgresRepository) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	query := `UPDATE accounts SET reset_token_hash = $2, reset_expires = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, tokenHash, expires)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// FindByResetToken returns common.ErrorNotFound for unknown and expired
// tokens alike.
func (r *PostgresRepository) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	query :=
		`SELECT ` + accountColumns + ` FROM accounts
		 WHERE reset_token_hash = $1 AND reset_expires > $2`
	return scanAccount(r.db.QueryRowContext(ctx, query, tokenHash, now))
}

// ConsumeResetToken clears a live token and returns the owning account. The
// row stays locked until the surrounding transaction ends, so a racing
// consumer blocks and then matches nothing.
func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	query :=
		`UPDATE accounts SET reset_token_hash = NULL, reset_expires = NULL
		 WHERE reset_token_hash = $1 AND reset_expires > $2
		 RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, query, tokenHash, now))
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
