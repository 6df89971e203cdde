package rest

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

const validToken = "valid-token"

// fakeAuth answers from per-method hooks and records the arguments it got.
type fakeAuth struct {
	register       func(username, email, password string) (*models.Account, error)
	login          func(identifier, password string) (*services.Session, error)
	changePassword func(accountID, current, next string) error
	forgotPassword func(email string) (*services.ForgotPasswordResult, error)
	verifyReset    func(token string) error
	resetPassword  func(token, next string) error

	calls []string
}

func (f *fakeAuth) Register(_ context.Context, username, email, password string) (*models.Account, error) {
	f.calls = append(f.calls, "Register:"+username)
	if f.register == nil {
		return &models.Account{ID: "acc-1", Username: username, Email: email}, nil
	}
	return f.register(username, email, password)
}

func (f *fakeAuth) Login(_ context.Context, identifier, password string) (*services.Session, error) {
	f.calls = append(f.calls, "Login:"+identifier)
	return f.login(identifier, password)
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (string, error) {
	if token != validToken {
		return "", common.NewError(common.ErrorUnauthorized, "Invalid session")
	}
	return "acc-1", nil
}

func (f *fakeAuth) ChangePassword(_ context.Context, accountID, current, next string) error {
	f.calls = append(f.calls, "ChangePassword:"+accountID)
	if f.changePassword == nil {
		return nil
	}
	return f.changePassword(accountID, current, next)
}

func (f *fakeAuth) ForgotPassword(_ context.Context, email string) (*services.ForgotPasswordResult, error) {
	f.calls = append(f.calls, "ForgotPassword:"+email)
	if f.forgotPassword == nil {
		return &services.ForgotPasswordResult{Message: services.ForgotPasswordMessage}, nil
	}
	return f.forgotPassword(email)
}

func (f *fakeAuth) VerifyResetToken(_ context.Context, token string) error {
	f.calls = append(f.calls, "VerifyResetToken:"+token)
	if f.verifyReset == nil {
		return nil
	}
	return f.verifyReset(token)
}

func (f *fakeAuth) ResetPassword(_ context.Context, token, next string) error {
	f.calls = append(f.calls, "ResetPassword:"+token)
	if f.resetPassword == nil {
		return nil
	}
	return f.resetPassword(token, next)
}

func (f *fakeAuth) Logout(_ context.Context, accountID string) error {
	f.calls = append(f.calls, "Logout:"+accountID)
	return nil
}

var errBoom = errors.New("boom: connection reset by peer")
