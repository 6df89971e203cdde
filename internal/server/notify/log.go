// Package notify delivers password reset tokens out of band.
package notify

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// LogNotifier writes reset tokens to the log. It stands in for email
// delivery in development and must not be used in production.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) PasswordResetRequested(ctx context.Context, notice models.PasswordResetNotice) error {
	n.logger.Info(ctx, "password reset token issued",
		"account_id", notice.AccountID,
		"email", logging.MaskEmail(notice.Email),
		"token", notice.Token,
		"expires_at", notice.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}
