// Package services contains server-side business logic. AuthService
// orchestrates registration, login and the password change and reset flows
// on top of the policy validator, credential hasher, history ledger, reset
// tokens and login limiter.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// ForgotPasswordMessage is returned whether or not the email is known.
const ForgotPasswordMessage = "If the email exists, a token has been sent"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

var errInvalidCredentials = common.NewError(common.ErrorUnauthorized, "Invalid email or password")

// LockoutError is returned by Login while the identifier is blocked.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return "Too many failed login attempts, try again later"
}

func (e *LockoutError) Unwrap() error { return common.ErrLockedOut }

// Session is the result of a successful login.
type Session struct {
	Token           string
	ExpiresAt       time.Time
	Account         *models.Account
	PasswordExpired bool
}

// ForgotPasswordResult carries the generic message and, only when the
// server runs with ExposeResetToken, the raw token.
type ForgotPasswordResult struct {
	Message string
	Token   string
}

// Deps are the collaborators AuthService is built from. Metrics may be nil.
type Deps struct {
	Validator PasswordValidator
	Hasher    CredentialHasher
	Limiter   LoginLimiter
	Notifier  Notifier
	Metrics   AuthMetrics
	Logger    logging.Logger
}

type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager

	validator PasswordValidator
	hasher    CredentialHasher
	limiter   LoginLimiter
	notifier  Notifier
	metrics   AuthMetrics
	logger    logging.Logger

	history  *PasswordHistory
	resets   *ResetTokens
	throttle *keyedThrottle

	jwtSecret        []byte
	sessionValidity  time.Duration
	passwordExpiry   time.Duration
	identifier       string
	exposeResetToken bool

	// dummy is verified against when the login identifier is unknown.
	dummy models.Credential
	now   func() time.Time
}

// NewAuthService wires the service from configuration and collaborators.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, deps Deps) (*AuthService, error) {
	if deps.Validator == nil || deps.Hasher == nil || deps.Limiter == nil || deps.Notifier == nil || deps.Logger == nil {
		return nil, errors.New("auth service: missing dependency")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	filler, err := cryptox.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	digest, salt, err := deps.Hasher.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &AuthService{
		db:               db,
		repomanager:      m,
		validator:        deps.Validator,
		hasher:           deps.Hasher,
		limiter:          deps.Limiter,
		notifier:         deps.Notifier,
		metrics:          metrics,
		logger:           deps.Logger.With("module", "auth"),
		history:          NewPasswordHistory(deps.Hasher, cfg.PasswordHistoryCount, cfg.PasswordHistoryRetention),
		resets:           NewResetTokens(cfg.ResetTokenValidity),
		throttle:         newKeyedThrottle(cfg.ResetRequestEvery, cfg.ResetRequestBurst),
		jwtSecret:        []byte(cfg.SecretKey),
		sessionValidity:  cfg.SessionValidity,
		passwordExpiry:   cfg.PasswordExpiry,
		identifier:       cfg.LoginIdentifier,
		exposeResetToken: cfg.ExposeResetToken,
		dummy:            models.Credential{Digest: digest, Salt: salt},
		now:              time.Now,
	}, nil
}

// Register creates an account after the duplicate check and the password
// policy. Username and email comparisons are exact.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.Account, error) {
	account, err := s.register(ctx, username, email, password)
	if err != nil {
		s.metrics.Registration(outcomeOf(err))
		return nil, err
	}
	s.metrics.Registration(OutcomeSuccess)
	s.logger.Info(ctx, "account registered", "account_id", account.ID, "email", logging.MaskEmail(email))
	return account, nil
}

func (s *AuthService) register(ctx context.Context, username, email, password string) (*models.Account, error) {
	if !usernamePattern.MatchString(username) {
		return nil, common.NewError(common.ErrValidation,
			"Username must be 3-50 characters of letters, digits or underscore")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, common.NewError(common.ErrValidation, "Email address is invalid")
	}

	repo := s.repomanager.Accounts(s.db)

	exists, err := repo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("error checking account: %w", err)
	}
	if exists {
		return nil, errAccountExists
	}

	if err := s.validator.Validate(password); err != nil {
		return nil, err
	}

	digest, salt, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now().UTC()
	account, err := repo.Create(ctx, &models.Account{
		ID:                uuid.NewString(),
		Username:          username,
		Email:             email,
		PasswordHash:      digest,
		Salt:              salt,
		PasswordChangedAt: now,
		CreatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, errAccountExists
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	return account, nil
}

var errAccountExists = common.NewError(common.ErrValidation, "Username or email already exists")

// Login checks the limiter before any credential work. Unknown identifiers
// and wrong passwords fail identically and both count as failures.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*Session, error) {
	blocked, until, err := s.limiter.IsBlocked(ctx, identifier)
	if err != nil {
		s.logger.Error(ctx, "login limiter unavailable", "error", err)
		s.metrics.Login(OutcomeFailure)
		return nil, common.ErrorInternal
	}
	if blocked {
		s.metrics.Login(OutcomeLocked)
		return nil, &LockoutError{Until: until}
	}

	account, err := s.lookup(ctx, identifier)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "account lookup failed", "error", err)
		s.metrics.Login(OutcomeFailure)
		return nil, common.ErrorInternal
	}

	var ok bool
	if account != nil {
		ok = s.hasher.Verify(password, account.PasswordHash, account.Salt)
	} else {
		s.hasher.Verify(password, s.dummy.Digest, s.dummy.Salt)
	}

	if !ok {
		remaining, err := s.limiter.RecordFailure(ctx, identifier)
		if err != nil {
			s.logger.Error(ctx, "recording login failure", "error", err)
		} else if remaining == 0 {
			s.logger.Warn(ctx, "login identifier locked out", "identifier", logging.MaskEmail(identifier))
		}
		s.metrics.Login(OutcomeRejected)
		return nil, errInvalidCredentials
	}

	if err := s.limiter.ResetOnSuccess(ctx, identifier); err != nil {
		s.logger.Error(ctx, "resetting login limiter", "error", err)
	}

	s.upgradeCredential(ctx, account, password)

	now := s.now()
	token, expiresAt, err := auth.GenerateToken(account.ID, account.Email, s.jwtSecret, now, s.sessionValidity)
	if err != nil {
		s.logger.Error(ctx, "signing session token", "error", err)
		s.metrics.Login(OutcomeFailure)
		return nil, common.ErrorInternal
	}

	s.metrics.Login(OutcomeSuccess)
	return &Session{
		Token:           token,
		ExpiresAt:       expiresAt,
		Account:         account,
		PasswordExpired: s.passwordExpiry > 0 && now.Sub(account.PasswordChangedAt) > s.passwordExpiry,
	}, nil
}

func (s *AuthService) lookup(ctx context.Context, identifier string) (*models.Account, error) {
	repo := s.repomanager.Accounts(s.db)
	switch s.identifier {
	case config.IdentifierUsername:
		return repo.GetByUsername(ctx, identifier)
	case config.IdentifierAny:
		return repo.GetByLogin(ctx, identifier)
	default:
		return repo.GetByEmail(ctx, identifier)
	}
}

// upgradeCredential rehashes a legacy or outdated digest in place. This is
// not a rotation: password_changed_at and the history stay untouched. The
// write is conditional on the digest that was verified, so a rotation that
// commits in between wins.
func (s *AuthService) upgradeCredential(ctx context.Context, account *models.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	digest, salt, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn(ctx, "credential upgrade skipped", "error", err)
		return
	}
	cred := models.Credential{Digest: digest, Salt: salt}
	upgraded, err := s.repomanager.Accounts(s.db).UpgradeCredential(ctx, account.ID, account.PasswordHash, cred)
	if err != nil {
		s.logger.Warn(ctx, "credential upgrade failed", "account_id", account.ID, "error", err)
		return
	}
	if !upgraded {
		s.logger.Info(ctx, "credential upgrade skipped, credential changed concurrently", "account_id", account.ID)
		return
	}
	account.PasswordHash, account.Salt = digest, salt
	s.logger.Info(ctx, "credential upgraded", "account_id", account.ID)
}

// Authenticate resolves a session token to an account id.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	accountID, err := auth.GetAccountIDFromToken(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return "", common.NewError(common.ErrorUnauthorized, "Session expired")
		}
		return "", common.NewError(common.ErrorUnauthorized, "Invalid session")
	}
	return accountID, nil
}

// ChangePassword rotates the credential of an authenticated account. The
// account row is locked for the duration of the transaction.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByIDForUpdate(ctx, accountID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.NewError(common.ErrorNotFound, "User not found")
			}
			return fmt.Errorf("error loading account: %w", err)
		}

		if !s.hasher.Verify(currentPassword, account.PasswordHash, account.Salt) {
			return common.NewError(common.ErrorUnauthorized, "Current password is incorrect")
		}

		return s.rotate(ctx, tx, account, newPassword)
	})

	s.metrics.PasswordChange(outcomeOf(err))
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "password changed", "account_id", accountID)
	return nil
}

// ForgotPassword answers with the same message whether or not email belongs
// to an account. Requests beyond the per-email throttle are dropped silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*ForgotPasswordResult, error) {
	result := &ForgotPasswordResult{Message: ForgotPasswordMessage}
	now := s.now()

	if !s.throttle.AllowAt(email, now) {
		s.logger.Warn(ctx, "password reset throttled", "email", logging.MaskEmail(email))
		s.metrics.PasswordReset("request", OutcomeRejected)
		return result, nil
	}

	repo := s.repomanager.Accounts(s.db)

	account, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "password reset for unknown email", "email", logging.MaskEmail(email))
			s.metrics.PasswordReset("request", OutcomeRejected)
			return result, nil
		}
		s.metrics.PasswordReset("request", OutcomeFailure)
		return nil, fmt.Errorf("error loading account: %w", err)
	}

	token, expiresAt, err := s.resets.Issue(ctx, repo, account.ID, now)
	if err != nil {
		s.metrics.PasswordReset("request", OutcomeFailure)
		return nil, err
	}

	notice := models.PasswordResetNotice{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := s.notifier.PasswordResetRequested(ctx, notice); err != nil {
		s.logger.Error(ctx, "reset notification failed", "account_id", account.ID, "error", err)
	}

	s.metrics.PasswordReset("request", OutcomeSuccess)
	if s.exposeResetToken {
		result.Token = token
	}
	return result, nil
}

// VerifyResetToken reports whether token is live without consuming it.
func (s *AuthService) VerifyResetToken(ctx context.Context, token string) error {
	_, err := s.resets.Verify(ctx, s.repomanager.Accounts(s.db), token, s.now())
	s.metrics.PasswordReset("verify", outcomeOf(err))
	return err
}

// ResetPassword consumes token and rotates the credential in one
// transaction. If any step fails the token stays usable.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	var accountID string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.resets.Consume(ctx, s.repomanager.Accounts(tx), token, s.now())
		if err != nil {
			return err
		}
		accountID = account.ID
		return s.rotate(ctx, tx, account, newPassword)
	})

	s.metrics.PasswordReset("reset", outcomeOf(err))
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "password reset", "account_id", accountID)
	return nil
}

// Logout is an acknowledgement only; sessions are not stored server side.
func (s *AuthService) Logout(ctx context.Context, accountID string) error {
	s.logger.Info(ctx, "logged out", "account_id", accountID)
	return nil
}

// rotate runs policy and reuse checks, archives the outgoing credential and
// then overwrites it. It must run inside a transaction holding the row.
func (s *AuthService) rotate(ctx context.Context, tx dbx.DBTX, account *models.Account, newPassword string) error {
	if err := s.validator.Validate(newPassword); err != nil {
		return err
	}

	historyRepo := s.repomanager.History(tx)
	if err := s.history.CheckReuse(ctx, historyRepo, account, newPassword); err != nil {
		return err
	}

	digest, salt, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now().UTC()
	if err := s.history.Record(ctx, historyRepo, account.ID, account.Credential(), now); err != nil {
		return err
	}

	cred := models.Credential{Digest: digest, Salt: salt}
	if err := s.repomanager.Accounts(tx).UpdateCredential(ctx, account.ID, cred, now); err != nil {
		return fmt.Errorf("error updating credential: %w", err)
	}
	return nil
}

// outcomeOf classifies err for metrics: client-caused errors are rejections.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, common.ErrPolicy),
		errors.Is(err, common.ErrPasswordReuse),
		errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrResetToken):
		return OutcomeRejected
	default:
		return OutcomeFailure
	}
}
