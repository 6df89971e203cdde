// Package api is the HTTP client for the authkeeper REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const maxErrorBody = 4 << 10

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Session struct {
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expiresAt"`
	PasswordExpired bool      `json:"passwordExpired"`
	User            User      `json:"user"`
}

type envelope struct {
	Status  string          `json:"status"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Health pings /api/health.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", "", nil, nil)
	return err
}

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, username, email, password string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	in := map[string]string{"username": username, "email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/register", "", in, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login exchanges credentials for a session. login is an email or a
// username depending on the server's identifier mode.
func (c *Client) Login(ctx context.Context, login, password string) (*Session, error) {
	var out Session
	in := map[string]string{"login": login, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChangePassword(ctx context.Context, token, currentPassword, newPassword string) (string, error) {
	in := map[string]string{"currentPassword": currentPassword, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/api/auth/change-password", token, in, nil)
}

// ForgotPassword returns the server message and, when the server exposes
// it, the reset token.
func (c *Client) ForgotPassword(ctx context.Context, email string) (message, resetToken string, err error) {
	var out struct {
		ResetToken string `json:"resetToken"`
	}
	message, err = c.do(ctx, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": email}, &out)
	if err != nil {
		return "", "", err
	}
	return message, out.ResetToken, nil
}

func (c *Client) VerifyResetToken(ctx context.Context, token string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/auth/verify-reset-token", "", map[string]string{"token": token}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	in := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password", "", in, nil)
}

func (c *Client) Logout(ctx context.Context, token string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// do sends in as JSON and decodes the data member of the reply into out.
// It returns the reply's message.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) (string, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decode response data: %w", err)
		}
	}
	return env.Message, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Status == "error" {
		apiErr.Kind, apiErr.Message = env.Kind, env.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsUnavailable reports whether err came from the transport rather than
// the server.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
