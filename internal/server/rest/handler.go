package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest accepts the identifier under any of its names.
type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) identifier() string {
	for _, v := range []string{r.Login, r.Email, r.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword,omitempty"`
}

type accountView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionView struct {
	Token           string      `json:"token"`
	ExpiresAt       time.Time   `json:"expiresAt"`
	PasswordExpired bool        `json:"passwordExpired"`
	User            accountView `json:"user"`
}

var errBadBody = common.NewError(common.ErrValidation, "Invalid request body")

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

func required(fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return common.NewError(common.ErrValidation, strings.Join(missing, ", ")+" required")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Message: "Server is running"})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := required([2]string{"username", req.Username}, [2]string{"email", req.Email}, [2]string{"password", req.Password}); err != nil {
		s.writeError(w, r, err)
		return
	}

	account, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "User registered successfully", map[string]string{"userId": account.ID})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	identifier := req.identifier()
	if err := required([2]string{"login", identifier}, [2]string{"password", req.Password}); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", sessionView{
		Token:           session.Token,
		ExpiresAt:       session.ExpiresAt.UTC(),
		PasswordExpired: session.PasswordExpired,
		User: accountView{
			ID:       session.Account.ID,
			Username: session.Account.Username,
			Email:    session.Account.Email,
		},
	})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		s.writeError(w, r, common.NewError(common.ErrorUnauthorized, "No token provided"))
		return
	}

	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := required([2]string{"currentPassword", req.CurrentPassword}, [2]string{"newPassword", req.NewPassword}); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.auth.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := required([2]string{"email", req.Email}); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var data any
	if result.Token != "" {
		data = map[string]string{"resetToken": result.Token}
	}
	writeSuccess(w, http.StatusOK, result.Message, data)
}

func (s *Server) verifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := required([2]string{"token", req.Token}); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.auth.VerifyResetToken(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Token is valid", nil)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := required([2]string{"token", req.Token}, [2]string{"newPassword", req.NewPassword}); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password reset successful", nil)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountIDFromContext(r.Context())
	if err := s.auth.Logout(r.Context(), accountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}
