package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwordpolicy"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	Status  string         `json:"status"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func newTestServer(auth *fakeAuth, opts Options) *Server {
	return NewServer("127.0.0.1:0", nopLogger{}, auth, nil, opts)
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, decoded) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out decoded
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeAuth{}, Options{}).Router()

	rr, body := do(t, h, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestRegister(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		auth := &fakeAuth{}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/register",
			`{"username":" alice ","email":"alice@example.com","password":"Str0ng!Pass"}`, "")

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "success", body.Status)
		assert.Equal(t, "User registered successfully", body.Message)
		assert.Equal(t, "acc-1", body.Data["userId"])
		assert.Equal(t, []string{"Register:alice"}, auth.calls)
	})

	t.Run("missing fields", func(t *testing.T) {
		auth := &fakeAuth{}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/register", `{"username":"alice"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, KindValidation, body.Kind)
		assert.Equal(t, "email, password required", body.Message)
		assert.Empty(t, auth.calls)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newTestServer(&fakeAuth{}, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/register", `{"username":`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid request body", body.Message)
	})

	t.Run("policy violation", func(t *testing.T) {
		auth := &fakeAuth{register: func(string, string, string) (*models.Account, error) {
			return nil, &passwordpolicy.PolicyError{Reason: passwordpolicy.ReasonTooShort, Message: "Password must be at least 10 characters long"}
		}}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"short"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "error", body.Status)
		assert.Equal(t, KindPolicy, body.Kind)
		assert.Equal(t, "Password must be at least 10 characters long", body.Message)
	})
}

func TestLogin(t *testing.T) {
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		auth := &fakeAuth{login: func(identifier, password string) (*services.Session, error) {
			return &services.Session{
				Token:           "jwt",
				ExpiresAt:       expires,
				PasswordExpired: true,
				Account:         &models.Account{ID: "acc-1", Username: "alice", Email: identifier},
			}, nil
		}}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"Str0ng!Pass"}`, "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "jwt", body.Data["token"])
		assert.Equal(t, true, body.Data["passwordExpired"])
		assert.Equal(t, "2030-01-02T03:04:05Z", body.Data["expiresAt"])
		user := body.Data["user"].(map[string]any)
		assert.Equal(t, "alice", user["username"])
		assert.Equal(t, []string{"Login:alice@example.com"}, auth.calls)
	})

	t.Run("login field wins over email", func(t *testing.T) {
		auth := &fakeAuth{login: func(string, string) (*services.Session, error) {
			return nil, common.NewError(common.ErrorUnauthorized, "Invalid email or password")
		}}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/login",
			`{"login":"alice","email":"alice@example.com","password":"x"}`, "")

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, KindAuthentication, body.Kind)
		assert.Equal(t, "Invalid email or password", body.Message)
		assert.Equal(t, []string{"Login:alice"}, auth.calls)
	})

	t.Run("locked out", func(t *testing.T) {
		now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		auth := &fakeAuth{login: func(string, string) (*services.Session, error) {
			return nil, &services.LockoutError{Until: now.Add(90*time.Second + 200*time.Millisecond)}
		}}
		s := newTestServer(auth, Options{})
		s.now = func() time.Time { return now }

		rr, body := do(t, s.Router(), http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"x"}`, "")

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, KindLockout, body.Kind)
		assert.Equal(t, "91", rr.Header().Get("Retry-After"))
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("requires bearer token", func(t *testing.T) {
		auth := &fakeAuth{}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/change-password",
			`{"currentPassword":"a","newPassword":"b"}`, "")

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "No token provided", body.Message)
		assert.Empty(t, auth.calls)
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		h := newTestServer(&fakeAuth{}, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/change-password",
			`{"currentPassword":"a","newPassword":"b"}`, "forged")

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Invalid session", body.Message)
	})

	t.Run("uses account from token", func(t *testing.T) {
		auth := &fakeAuth{}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/change-password",
			`{"currentPassword":"Str0ng!Pass","newPassword":"Sec0nd!Pass"}`, validToken)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Password changed successfully", body.Message)
		assert.Equal(t, []string{"ChangePassword:acc-1"}, auth.calls)
	})

	t.Run("reuse", func(t *testing.T) {
		auth := &fakeAuth{changePassword: func(string, string, string) error {
			return common.NewError(common.ErrPasswordReuse, "Cannot reuse your current password or any of your last 3 passwords")
		}}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/change-password",
			`{"currentPassword":"Str0ng!Pass","newPassword":"Str0ng!Pass"}`, validToken)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, KindReuse, body.Kind)
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("generic response", func(t *testing.T) {
		h := newTestServer(&fakeAuth{}, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/forgot-password", `{"email":"nobody@example.com"}`, "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, services.ForgotPasswordMessage, body.Message)
		assert.Nil(t, body.Data)
	})

	t.Run("exposes token when configured", func(t *testing.T) {
		auth := &fakeAuth{forgotPassword: func(string) (*services.ForgotPasswordResult, error) {
			return &services.ForgotPasswordResult{Message: services.ForgotPasswordMessage, Token: "raw"}, nil
		}}
		h := newTestServer(auth, Options{}).Router()

		_, body := do(t, h, http.MethodPost, "/api/auth/forgot-password", `{"email":"alice@example.com"}`, "")

		assert.Equal(t, "raw", body.Data["resetToken"])
	})
}

func TestResetFlow(t *testing.T) {
	t.Run("verify invalid token", func(t *testing.T) {
		auth := &fakeAuth{verifyReset: func(string) error {
			return common.NewError(common.ErrResetToken, "Invalid or expired reset token")
		}}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/verify-reset-token", `{"token":"nope"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, KindToken, body.Kind)
		assert.Equal(t, "Invalid or expired reset token", body.Message)
	})

	t.Run("verify valid token", func(t *testing.T) {
		h := newTestServer(&fakeAuth{}, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/verify-reset-token", `{"token":"ok"}`, "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Token is valid", body.Message)
	})

	t.Run("reset", func(t *testing.T) {
		auth := &fakeAuth{}
		h := newTestServer(auth, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/reset-password", `{"token":" tok ","newPassword":"Sec0nd!Pass"}`, "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Password reset successful", body.Message)
		assert.Equal(t, []string{"ResetPassword:tok"}, auth.calls)
	})

	t.Run("reset requires new password", func(t *testing.T) {
		h := newTestServer(&fakeAuth{}, Options{}).Router()

		rr, body := do(t, h, http.MethodPost, "/api/auth/reset-password", `{"token":"tok"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "newPassword required", body.Message)
	})
}

func TestLogout(t *testing.T) {
	auth := &fakeAuth{}
	h := newTestServer(auth, Options{}).Router()

	rr, _ := do(t, h, http.MethodPost, "/api/auth/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body := do(t, h, http.MethodPost, "/api/auth/logout", "", validToken)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Logged out", body.Message)
	assert.Equal(t, []string{"Logout:acc-1"}, auth.calls)
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	auth := &fakeAuth{verifyReset: func(string) error { return errBoom }}
	h := newTestServer(auth, Options{}).Router()

	rr, body := do(t, h, http.MethodPost, "/api/auth/verify-reset-token", `{"token":"x"}`, "")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, KindInternal, body.Kind)
	assert.Equal(t, "Internal server error", body.Message)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestRateLimitByIP(t *testing.T) {
	h := newTestServer(&fakeAuth{}, Options{RequestsPerMinute: 2}).Router()

	for i := 0; i < 2; i++ {
		rr, _ := do(t, h, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@example.com"}`, "")
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr, _ := do(t, h, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@example.com"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr, _ = do(t, h, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	h := NewServer("127.0.0.1:0", nopLogger{}, &fakeAuth{}, m, Options{Gatherer: reg}).Router()

	do(t, h, http.MethodGet, "/api/health", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `authkeeper_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeAuth{}, Options{CORSOrigins: []string{"http://localhost:3000"}}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
