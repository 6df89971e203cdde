package models

import "time"

// PasswordResetNotice is handed to the notification collaborator when a reset
// token is issued. Token is the raw value; it is never persisted.
type PasswordResetNotice struct {
	AccountID string
	Username  string
	Email     string
	Token     string
	ExpiresAt time.Time
}
