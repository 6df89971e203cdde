package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/client/api"
	"github.com/dmitrijs2005/authkeeper/internal/client/config"
	"github.com/dmitrijs2005/authkeeper/internal/client/session"
)

type fakeAPI struct {
	calls []string

	healthErr error

	regUser, regEmail, regPass string
	regID                      string
	regErr                     error

	loginName, loginPass string
	loginOut             *api.Session
	loginErr             error

	token            string
	curPass, newPass string
	changeErr        error

	forgotEmail string
	forgotToken string
	forgotErr   error

	verifyErr error
	resetErr  error
	logoutErr error
}

func (f *fakeAPI) Health(context.Context) error {
	f.calls = append(f.calls, "health")
	return f.healthErr
}

func (f *fakeAPI) Register(_ context.Context, username, email, password string) (string, error) {
	f.calls = append(f.calls, "register")
	f.regUser, f.regEmail, f.regPass = username, email, password
	return f.regID, f.regErr
}

func (f *fakeAPI) Login(_ context.Context, login, password string) (*api.Session, error) {
	f.calls = append(f.calls, "login")
	f.loginName, f.loginPass = login, password
	return f.loginOut, f.loginErr
}

func (f *fakeAPI) ChangePassword(_ context.Context, token, cur, next string) (string, error) {
	f.calls = append(f.calls, "change-password")
	f.token, f.curPass, f.newPass = token, cur, next
	return "Password changed successfully", f.changeErr
}

func (f *fakeAPI) ForgotPassword(_ context.Context, email string) (string, string, error) {
	f.calls = append(f.calls, "forgot-password")
	f.forgotEmail = email
	return "If that email is registered, a reset link has been sent", f.forgotToken, f.forgotErr
}

func (f *fakeAPI) VerifyResetToken(_ context.Context, token string) (string, error) {
	f.calls = append(f.calls, "verify-reset-token")
	f.token = token
	return "Token is valid", f.verifyErr
}

func (f *fakeAPI) ResetPassword(_ context.Context, token, next string) (string, error) {
	f.calls = append(f.calls, "reset-password")
	f.token, f.newPass = token, next
	return "Password reset successful", f.resetErr
}

func (f *fakeAPI) Logout(_ context.Context, token string) (string, error) {
	f.calls = append(f.calls, "logout")
	f.token = token
	return "Logged out", f.logoutErr
}

type memSessions struct {
	saved    *session.Session
	cleared  bool
	saveErr  error
	loadErr  error
	clearErr error
}

func (m *memSessions) Save(_ context.Context, s session.Session) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = &s
	return nil
}

func (m *memSessions) Load(context.Context) (*session.Session, error) { return m.saved, m.loadErr }

func (m *memSessions) Clear(context.Context) error {
	m.cleared = true
	m.saved = nil
	return m.clearErr
}

func newTestApp(f *fakeAPI, s *memSessions) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &App{
		config:   &config.Config{ServerURL: "http://auth.test"},
		api:      f,
		sessions: s,
		reader:   bufio.NewReader(strings.NewReader("")),
		out:      out,
	}, out
}

// stubInputs feeds answers to the text and password prompts in order.
func stubInputs(t *testing.T, texts []string, passwords ...string) {
	t.Helper()
	origST, origGP := getSimpleText, getPassword
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})

	getSimpleText = func(_ *bufio.Reader, _ string, _ io.Writer) (string, error) {
		if len(texts) == 0 {
			return "", io.EOF
		}
		s := texts[0]
		texts = texts[1:]
		return s, nil
	}
	getPassword = func(_ io.Writer, _ string) ([]byte, error) {
		if len(passwords) == 0 {
			return nil, io.EOF
		}
		p := passwords[0]
		passwords = passwords[1:]
		return []byte(p), nil
	}
}
