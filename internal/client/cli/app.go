package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/authkeeper/internal/client/api"
	"github.com/dmitrijs2005/authkeeper/internal/client/config"
	"github.com/dmitrijs2005/authkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/authkeeper/internal/client/session"
	"github.com/dmitrijs2005/authkeeper/internal/client/storage"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
)

// authAPI is the part of api.Client the commands use.
type authAPI interface {
	Health(ctx context.Context) error
	Register(ctx context.Context, username, email, password string) (string, error)
	Login(ctx context.Context, login, password string) (*api.Session, error)
	ChangePassword(ctx context.Context, token, currentPassword, newPassword string) (string, error)
	ForgotPassword(ctx context.Context, email string) (string, string, error)
	VerifyResetToken(ctx context.Context, token string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) (string, error)
	Logout(ctx context.Context, token string) (string, error)
}

type sessionStore interface {
	Save(ctx context.Context, sess session.Session) error
	Load(ctx context.Context) (*session.Session, error)
	Clear(ctx context.Context) error
}

type App struct {
	config   *config.Config
	api      authAPI
	sessions sessionStore
	session  *session.Session
	reader   *bufio.Reader
	out      io.Writer
	db       *sql.DB
}

// NewApp opens the local session database and builds the API client.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	dbPath, err := filex.EnsureParentDir(c.DatabasePath)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	return &App{
		config:   c,
		api:      api.New(c.ServerURL, c.RequestTimeout),
		sessions: session.NewStore(metadata.NewSQLiteRepository(db)),
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		db:       db,
	}, nil
}

// Run restores a saved session and serves the REPL until the user exits.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.restoreSession(ctx); err != nil {
		fmt.Fprintf(a.out, "Could not restore session: %v\n", err)
	}

	fmt.Fprintf(a.out, "Welcome to authkeeper CLI, server %s (type 'help' for commands)\n", a.config.ServerURL)
	runREPL(ctx, a, a.getStatus, a.reader)
	return nil
}

func (a *App) restoreSession(ctx context.Context) error {
	sess, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	a.session = sess
	return nil
}

func (a *App) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

func (a *App) getStatus() string {
	if a.session == nil {
		return ""
	}
	return fmt.Sprintf("(%s)", a.session.Username)
}
