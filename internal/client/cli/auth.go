package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/client/api"
	"github.com/dmitrijs2005/authkeeper/internal/client/session"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
)

var errNotLoggedIn = errors.New("not logged in")

// Register prompts for a username, an email and a new password and creates
// the account. It does not log the user in.
func (a *App) Register(ctx context.Context) error {
	username, err := a.requiredText("Enter username")
	if err != nil {
		return err
	}
	email, err := a.requiredText("Enter email")
	if err != nil {
		return err
	}

	password, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(password)

	id, err := a.api.Register(ctx, username, email, string(password))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered, user id %s. You can log in now.\n", id)
	return nil
}

// Login prompts for credentials, opens a session on the server and saves
// it locally.
func (a *App) Login(ctx context.Context) error {
	login, err := a.requiredText("Enter username or email")
	if err != nil {
		return err
	}

	password, err := getPassword(a.out, "Enter password")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(password)

	s, err := a.api.Login(ctx, login, string(password))
	if err != nil {
		return err
	}

	sess := session.Session{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		AccountID: s.User.ID,
		Username:  s.User.Username,
		Email:     s.User.Email,
	}
	if err := a.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.session = &sess

	fmt.Fprintf(a.out, "Logged in as %s\n", sess.Username)
	if s.PasswordExpired {
		fmt.Fprintln(a.out, "Your password has expired, change it with change-password.")
	}
	return nil
}

// Logout ends the server session and forgets the local one. The local
// session is dropped even when the server call fails.
func (a *App) Logout(ctx context.Context) error {
	if a.session == nil {
		return errNotLoggedIn
	}

	_, apiErr := a.api.Logout(ctx, a.session.Token)
	if err := a.forgetSession(ctx); err != nil {
		return err
	}
	if apiErr != nil && !errors.Is(apiErr, common.ErrorUnauthorized) {
		return fmt.Errorf("logged out locally, server said: %w", apiErr)
	}

	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// Status prints the server reachability and the current session.
func (a *App) Status(ctx context.Context) error {
	if err := a.api.Health(ctx); err != nil {
		if !api.IsUnavailable(err) {
			return err
		}
		fmt.Fprintf(a.out, "Server %s: unavailable\n", a.config.ServerURL)
	} else {
		fmt.Fprintf(a.out, "Server %s: online\n", a.config.ServerURL)
	}

	if a.session == nil {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	fmt.Fprintf(a.out, "Logged in as %s <%s>, session expires %s\n",
		a.session.Username, a.session.Email, a.session.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (a *App) forgetSession(ctx context.Context) error {
	a.session = nil
	if err := a.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
