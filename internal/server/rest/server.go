// Package rest exposes the auth service over HTTP.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

// AuthService is the part of services.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*models.Account, error)
	Login(ctx context.Context, identifier, password string) (*services.Session, error)
	Authenticate(ctx context.Context, token string) (string, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) (*services.ForgotPasswordResult, error)
	VerifyResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Logout(ctx context.Context, accountID string) error
}

// Options tune the router. Zero values disable the matching feature.
type Options struct {
	RequestsPerMinute int
	CORSOrigins       []string
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

type Server struct {
	address string
	auth    AuthService
	metrics *metrics.Metrics
	logger  logging.Logger
	opts    Options
	now     func() time.Time
}

// NewServer builds the HTTP server. m may be nil when metrics are disabled.
func NewServer(address string, l logging.Logger, auth AuthService, m *metrics.Metrics, opts Options) *Server {
	return &Server{
		address: address,
		auth:    auth,
		metrics: m,
		logger:  l.With("module", "rest_server"),
		opts:    opts,
		now:     time.Now,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
