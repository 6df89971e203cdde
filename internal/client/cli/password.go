package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
)

var errPasswordMismatch = errors.New("passwords do not match")

const wrongCurrentPasswordMessage = "Current password is incorrect"

// readNewPassword asks for a password twice and returns it when both
// entries match.
func (a *App) readNewPassword() ([]byte, error) {
	pw, err := getPassword(a.out, "Enter new password")
	if err != nil {
		return nil, err
	}
	confirm, err := getPassword(a.out, "Repeat new password")
	if err != nil {
		cryptox.Wipe(pw)
		return nil, err
	}
	defer cryptox.Wipe(confirm)

	if !bytes.Equal(pw, confirm) {
		cryptox.Wipe(pw)
		return nil, errPasswordMismatch
	}
	return pw, nil
}

// ChangePassword replaces the password of the logged in account. A
// rejected session is dropped locally.
func (a *App) ChangePassword(ctx context.Context) error {
	if a.session == nil {
		return errNotLoggedIn
	}

	current, err := getPassword(a.out, "Enter current password")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(current)

	next, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(next)

	msg, err := a.api.ChangePassword(ctx, a.session.Token, string(current), string(next))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) && sessionRejected(err) {
			_ = a.forgetSession(ctx)
			return fmt.Errorf("session is no longer valid, log in again: %w", err)
		}
		return err
	}

	fmt.Fprintln(a.out, msg)
	return nil
}

// sessionRejected tells an expired or revoked session apart from a wrong
// current password; the server reports both as authentication errors.
func sessionRejected(err error) bool {
	return err.Error() != wrongCurrentPasswordMessage
}

// ForgotPassword requests a reset token for an email address. Servers
// running in development mode return the token, which is printed.
func (a *App) ForgotPassword(ctx context.Context) error {
	email, err := a.requiredText("Enter email")
	if err != nil {
		return err
	}

	msg, token, err := a.api.ForgotPassword(ctx, email)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, msg)
	if token != "" {
		fmt.Fprintf(a.out, "Reset token: %s\n", token)
	}
	return nil
}

func (a *App) VerifyResetToken(ctx context.Context) error {
	token, err := a.requiredText("Enter reset token")
	if err != nil {
		return err
	}

	msg, err := a.api.VerifyResetToken(ctx, token)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

// ResetPassword sets a new password using a reset token.
func (a *App) ResetPassword(ctx context.Context) error {
	token, err := a.requiredText("Enter reset token")
	if err != nil {
		return err
	}

	pw, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)

	msg, err := a.api.ResetPassword(ctx, token, string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}
