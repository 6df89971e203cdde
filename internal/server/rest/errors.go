package rest

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

// Error kinds reported in failure bodies.
const (
	KindPolicy         = "PolicyError"
	KindReuse          = "ReuseError"
	KindAuthentication = "AuthenticationError"
	KindValidation     = "ValidationError"
	KindNotFound       = "NotFoundError"
	KindToken          = "TokenError"
	KindLockout        = "LockoutError"
	KindInternal       = "InternalError"
)

const internalMessage = "Internal server error"

type response struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorMapping struct {
	target error
	kind   string
	status int
}

var errorMappings = []errorMapping{
	{common.ErrPolicy, KindPolicy, http.StatusBadRequest},
	{common.ErrPasswordReuse, KindReuse, http.StatusBadRequest},
	{common.ErrLockedOut, KindLockout, http.StatusTooManyRequests},
	{common.ErrorUnauthorized, KindAuthentication, http.StatusUnauthorized},
	{common.ErrInvalidToken, KindAuthentication, http.StatusUnauthorized},
	{common.ErrTokenExpired, KindAuthentication, http.StatusUnauthorized},
	{common.ErrValidation, KindValidation, http.StatusBadRequest},
	{common.ErrResetToken, KindToken, http.StatusBadRequest},
	{common.ErrorNotFound, KindNotFound, http.StatusNotFound},
}

// classify maps err to a kind and status. Unknown errors are internal.
func classify(err error) (kind string, status int, known bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.kind, m.status, true
		}
	}
	return KindInternal, http.StatusInternalServerError, false
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, status, known := classify(err)

	message := internalMessage
	if known {
		message = common.Message(err)
	} else {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	var lockout *services.LockoutError
	if errors.As(err, &lockout) {
		secs := math.Ceil(lockout.Until.Sub(s.now()).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(secs)))
	}

	writeJSON(w, status, response{Status: "error", Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, response{Status: "success", Message: message, Data: data})
}
