// Package session keeps the CLI's login session between runs.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/client/repositories/metadata"
)

const sessionKey = "session"

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
}

// Store persists at most one session.
type Store struct {
	repo metadata.Repository
	now  func() time.Time
}

func NewStore(repo metadata.Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

func (s *Store) Save(ctx context.Context, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.repo.Set(ctx, sessionKey, b)
}

// Load returns the saved session, or nil when there is none or it has
// expired. An expired session is removed.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	b, err := s.repo.Get(ctx, sessionKey)
	if err != nil || b == nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt) {
		return nil, s.Clear(ctx)
	}
	return &sess, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, sessionKey)
}
