// Package models defines server-side data models persisted in the database.
package models

import "time"

// Account is a registered identity with exactly one active credential.
type Account struct {
	ID       string `db:"id"`
	Username string `db:"username"`
	Email    string `db:"email"`

	// PasswordHash and Salt form the active credential.
	PasswordHash      string    `db:"password_hash"`
	Salt              string    `db:"salt"`
	PasswordChangedAt time.Time `db:"password_changed_at"`

	// ResetTokenHash is the digest of the pending reset token, if any.
	ResetTokenHash *string    `db:"reset_token_hash"`
	ResetExpires   *time.Time `db:"reset_expires"`

	CreatedAt time.Time `db:"created_at"`
}

// Credential returns the active (digest, salt) pair.
func (a *Account) Credential() Credential {
	return Credential{Digest: a.PasswordHash, Salt: a.Salt}
}

// Credential is a password digest together with the salt it was derived under.
type Credential struct {
	Digest string
	Salt   string
}
