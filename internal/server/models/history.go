package models

import "time"

// CredentialHistoryEntry is an archived former credential. Entries are
// immutable once written.
type CredentialHistoryEntry struct {
	ID           string    `db:"id"`
	AccountID    string    `db:"account_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
	CreatedAt    time.Time `db:"created_at"`
}

func (e *CredentialHistoryEntry) Credential() Credential {
	return Credential{Digest: e.PasswordHash, Salt: e.Salt}
}
