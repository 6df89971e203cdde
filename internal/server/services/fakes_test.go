package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwordpolicy"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/history"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

// memStore backs both fake repositories and records the order of writes.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	history  map[string][]historyRow
	seq      int64
	calls    []string

	// err, when set for a method name, is returned by that method.
	err map[string]error
}

type historyRow struct {
	entry models.CredentialHistoryEntry
	seq   int64
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*models.Account),
		history:  make(map[string][]historyRow),
		err:      make(map[string]error),
	}
}

func (m *memStore) record(call string) error {
	m.calls = append(m.calls, call)
	return m.err[call]
}

type memSnapshot struct {
	accounts map[string]models.Account
	history  map[string][]historyRow
	seq      int64
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		accounts: make(map[string]models.Account, len(m.accounts)),
		history:  make(map[string][]historyRow, len(m.history)),
		seq:      m.seq,
	}
	for id, a := range m.accounts {
		s.accounts[id] = *a
	}
	for id, rows := range m.history {
		s.history[id] = append([]historyRow(nil), rows...)
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*models.Account, len(s.accounts))
	for id, a := range s.accounts {
		m.accounts[id] = &a
	}
	m.history = s.history
	m.seq = s.seq
}

func (m *memStore) find(match func(a *models.Account) bool) (*models.Account, error) {
	for _, a := range m.accounts {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

type fakeAccounts struct{ m *memStore }

func (f fakeAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.Create"); err != nil {
		return nil, err
	}
	for _, x := range f.m.accounts {
		if x.Username == a.Username || x.Email == a.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *a
	f.m.accounts[a.ID] = &cp
	return a, nil
}

func (f fakeAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.GetByID"); err != nil {
		return nil, err
	}
	return f.m.find(func(a *models.Account) bool { return a.ID == id })
}

func (f fakeAccounts) GetByIDForUpdate(_ context.Context, id string) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.GetByIDForUpdate"); err != nil {
		return nil, err
	}
	return f.m.find(func(a *models.Account) bool { return a.ID == id })
}

func (f fakeAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.GetByEmail"); err != nil {
		return nil, err
	}
	return f.m.find(func(a *models.Account) bool { return a.Email == email })
}

func (f fakeAccounts) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.GetByUsername"); err != nil {
		return nil, err
	}
	return f.m.find(func(a *models.Account) bool { return a.Username == username })
}

func (f fakeAccounts) GetByLogin(_ context.Context, login string) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.GetByLogin"); err != nil {
		return nil, err
	}
	if a, err := f.m.find(func(a *models.Account) bool { return a.Email == login }); err == nil {
		return a, nil
	}
	return f.m.find(func(a *models.Account) bool { return a.Username == login })
}

func (f fakeAccounts) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.ExistsByUsernameOrEmail"); err != nil {
		return false, err
	}
	_, err := f.m.find(func(a *models.Account) bool { return a.Username == username || a.Email == email })
	return err == nil, nil
}

func (f fakeAccounts) UpdateCredential(_ context.Context, id string, cred models.Credential, changedAt time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.UpdateCredential"); err != nil {
		return err
	}
	a, ok := f.m.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.PasswordHash, a.Salt, a.PasswordChangedAt = cred.Digest, cred.Salt, changedAt
	return nil
}

func (f fakeAccounts) UpgradeCredential(_ context.Context, id, oldDigest string, cred models.Credential) (bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.UpgradeCredential"); err != nil {
		return false, err
	}
	a, ok := f.m.accounts[id]
	if !ok || a.PasswordHash != oldDigest {
		return false, nil
	}
	a.PasswordHash, a.Salt = cred.Digest, cred.Salt
	return true, nil
}

func (f fakeAccounts) SetResetToken(_ context.Context, id, tokenHash string, expires time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.SetResetToken"); err != nil {
		return err
	}
	a, ok := f.m.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.ResetTokenHash, a.ResetExpires = &tokenHash, &expires
	return nil
}

func (f fakeAccounts) live(tokenHash string, now time.Time) func(a *models.Account) bool {
	return func(a *models.Account) bool {
		return a.ResetTokenHash != nil && *a.ResetTokenHash == tokenHash && a.ResetExpires.After(now)
	}
}

func (f fakeAccounts) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.FindByResetToken"); err != nil {
		return nil, err
	}
	return f.m.find(f.live(tokenHash, now))
}

func (f fakeAccounts) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("accounts.ConsumeResetToken"); err != nil {
		return nil, err
	}
	a, err := f.m.find(f.live(tokenHash, now))
	if err != nil {
		return nil, err
	}
	stored := f.m.accounts[a.ID]
	stored.ResetTokenHash, stored.ResetExpires = nil, nil
	a.ResetTokenHash, a.ResetExpires = nil, nil
	return a, nil
}

type fakeHistory struct{ m *memStore }

func (f fakeHistory) Create(_ context.Context, e *models.CredentialHistoryEntry) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("history.Create"); err != nil {
		return err
	}
	f.m.seq++
	f.m.history[e.AccountID] = append(f.m.history[e.AccountID], historyRow{entry: *e, seq: f.m.seq})
	return nil
}

func (f fakeHistory) sorted(accountID string) []historyRow {
	rows := append([]historyRow(nil), f.m.history[accountID]...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].entry.CreatedAt.Equal(rows[j].entry.CreatedAt) {
			return rows[i].entry.CreatedAt.After(rows[j].entry.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	return rows
}

func (f fakeHistory) Recent(_ context.Context, accountID string, limit int) ([]models.CredentialHistoryEntry, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("history.Recent"); err != nil {
		return nil, err
	}
	var out []models.CredentialHistoryEntry
	for i, r := range f.sorted(accountID) {
		if i == limit {
			break
		}
		out = append(out, r.entry)
	}
	return out, nil
}

func (f fakeHistory) Prune(_ context.Context, accountID string, keep int) (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.record("history.Prune"); err != nil {
		return 0, err
	}
	rows := f.sorted(accountID)
	if len(rows) <= keep {
		return 0, nil
	}
	f.m.history[accountID] = rows[:keep]
	return int64(len(rows) - keep), nil
}

type fakeRepoManager struct{ m *memStore }

func (r fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (r fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository        { return fakeAccounts{r.m} }
func (r fakeRepoManager) History(dbx.DBTX) history.Repository          { return fakeHistory{r.m} }

// journalConnector opens sqlmock connections whose transactions snapshot the
// memStore on Begin and restore it on Rollback, so the fake repositories see
// the same all-or-nothing outcome a database would give them.
type journalConnector struct {
	dsn   string
	drv   driver.Driver
	store *memStore
}

func (c journalConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return journalConn{Conn: conn, store: c.store}, nil
}

func (c journalConnector) Driver() driver.Driver { return c.drv }

type journalConn struct {
	driver.Conn
	store *memStore
}

func (c journalConn) Begin() (driver.Tx, error) {
	tx, err := c.Conn.Begin() //nolint:staticcheck
	if err != nil {
		return nil, err
	}
	return &journalTx{Tx: tx, store: c.store, snap: c.store.snapshot()}, nil
}

type journalTx struct {
	driver.Tx
	store *memStore
	snap  memSnapshot
}

func (t *journalTx) Rollback() error {
	t.store.restore(t.snap)
	return t.Tx.Rollback()
}

var mockSeq atomic.Int64

// newJournalDB returns a database whose transactions are checked against
// the returned sqlmock expectations and journaled against store.
func newJournalDB(t *testing.T, store *memStore) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	dsn := fmt.Sprintf("authkeeper-%d", mockSeq.Add(1))
	mockDB, mock, err := sqlmock.NewWithDSN(dsn)
	if err != nil {
		t.Fatalf("sqlmock.NewWithDSN error: %v", err)
	}
	db := sql.OpenDB(journalConnector{dsn: dsn, drv: mockDB.Driver(), store: store})
	t.Cleanup(func() {
		_ = db.Close()
		_ = mockDB.Close()
	})
	return db, mock
}

type fakeNotifier struct {
	notices []models.PasswordResetNotice
	err     error
}

func (n *fakeNotifier) PasswordResetRequested(_ context.Context, notice models.PasswordResetNotice) error {
	n.notices = append(n.notices, notice)
	return n.err
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[key]++
}

func (c *countingMetrics) Registration(o string)         { c.inc("register/" + o) }
func (c *countingMetrics) Login(o string)                { c.inc("login/" + o) }
func (c *countingMetrics) PasswordChange(o string)       { c.inc("change/" + o) }
func (c *countingMetrics) PasswordReset(stage, o string) { c.inc("reset-" + stage + "/" + o) }

var testArgon2 = cryptox.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ExposeResetToken = true
	return cfg
}

type testEnv struct {
	svc      *AuthService
	store    *memStore
	mock     sqlmock.Sqlmock
	notifier *fakeNotifier
	metrics  *countingMetrics
	clock    *time.Time
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	store := newMemStore()
	db, mock := newJournalDB(t, store)

	policy := cfg.PasswordPolicy()
	policy.Blacklist = passwordpolicy.DefaultBlacklist()

	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), cfg.RateLimit())
	if err != nil {
		t.Fatalf("NewLimiter error: %v", err)
	}

	env := &testEnv{
		store:    store,
		mock:     mock,
		notifier: &fakeNotifier{},
		metrics:  &countingMetrics{},
	}

	svc, err := NewAuthService(db, fakeRepoManager{env.store}, cfg, Deps{
		Validator: passwordpolicy.NewValidator(policy),
		Hasher:    cryptox.NewPasswordHasher(testArgon2),
		Limiter:   limiter,
		Notifier:  env.notifier,
		Metrics:   env.metrics,
		Logger:    nopLogger{},
	})
	if err != nil {
		t.Fatalf("NewAuthService error: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	env.clock = &now
	svc.now = func() time.Time { return *env.clock }
	env.svc = svc
	return env
}

func (e *testEnv) advance(d time.Duration) { *e.clock = e.clock.Add(d) }

func (e *testEnv) expectCommit() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *testEnv) expectRollback() {
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
}

func (e *testEnv) account(t *testing.T, email string) *models.Account {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	a, err := e.store.find(func(a *models.Account) bool { return a.Email == email })
	if err != nil {
		t.Fatalf("account %s not found", email)
	}
	return a
}
