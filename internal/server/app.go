// Package server wires configuration, storage and collaborators into the
// auth service and runs the HTTP API until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/notify"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwordpolicy"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/rest"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "authkeeper:login_attempts"
	minRecordTTL   = 24 * time.Hour
	connectTimeout = 5 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	auth     *services.AuthService
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []func() error
}

func NewApp(c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(c.LogFormat, c.LogLevel, c.Env, os.Stdout)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger}
	if err := app.init(); err != nil {
		_ = app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := sql.Open("pgx", app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("db migration error: %w", err)
	}

	validator, err := newValidator(ctx, app.config)
	if err != nil {
		return err
	}

	store, err := app.newLimiterStore(ctx)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.NewLimiter(store, app.config.RateLimit())
	if err != nil {
		return err
	}

	notifier, err := app.newNotifier()
	if err != nil {
		return err
	}

	deps := services.Deps{
		Validator: validator,
		Hasher:    cryptox.NewPasswordHasher(cryptox.DefaultArgon2Params),
		Limiter:   limiter,
		Notifier:  notifier,
		Logger:    app.logger,
	}

	if app.config.MetricsEnabled {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(app.registry)
		if err != nil {
			return err
		}
		app.metrics = m
		deps.Metrics = m
	}

	app.auth, err = services.NewAuthService(db, rm, app.config, deps)
	return err
}

// newObjectGetter is a seam for tests that read the blacklist from S3.
var newObjectGetter = func(ctx context.Context, c *config.Config) (blobstore.ObjectGetter, error) {
	return blobstore.NewS3Client(ctx, blobstore.S3Config{
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
	})
}

func loadBlacklist(ctx context.Context, c *config.Config) ([]string, error) {
	if !blobstore.IsS3URI(c.BlacklistFile) {
		return passwordpolicy.LoadBlacklist(c.BlacklistFile)
	}

	getter, err := newObjectGetter(ctx, c)
	if err != nil {
		return nil, err
	}
	rc, err := blobstore.Open(ctx, getter, c.BlacklistFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return passwordpolicy.ParseBlacklist(rc)
}

func newValidator(ctx context.Context, c *config.Config) (*passwordpolicy.Validator, error) {
	blacklist, err := loadBlacklist(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blacklist load error: %w", err)
	}

	policy := c.PasswordPolicy()
	policy.Blacklist = blacklist
	return passwordpolicy.NewValidator(policy), nil
}

func (app *App) newLimiterStore(ctx context.Context) (ratelimit.Store, error) {
	if app.config.LimiterStore != config.StoreRedis {
		return ratelimit.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})
	app.closers = append(app.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return ratelimit.NewRedisStore(client, redisKeyPrefix, recordTTL(app.config.LockoutDuration)), nil
}

// recordTTL keeps an attempt record alive well past any block it carries.
func recordTTL(lockout time.Duration) time.Duration {
	return max(minRecordTTL, 2*lockout)
}

func (app *App) newNotifier() (services.Notifier, error) {
	if app.config.Notifier != config.NotifierKafka {
		return notify.NewLogNotifier(app.logger), nil
	}

	producer, err := notify.NewKafkaProducer(app.config.KafkaBrokers)
	if err != nil {
		return nil, err
	}
	n := notify.NewKafkaNotifier(producer, app.config.KafkaTopicPrefix, app.logger)
	app.closers = append(app.closers, n.Close)
	return n, nil
}

// close releases resources in reverse order of acquisition.
func (app *App) close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) newRESTServer() *rest.Server {
	opts := rest.Options{
		RequestsPerMinute: app.config.RequestsPerMinute,
		CORSOrigins:       app.config.CORSOrigins,
	}
	if app.registry != nil {
		opts.Gatherer = app.registry
	}
	return rest.NewServer(app.config.EndpointAddr, app.logger, app.auth, app.metrics, opts)
}

func (app *App) startRESTServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.newRESTServer().Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled, a termination signal arrives or the
// HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "env", app.config.Env)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startRESTServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.close(); err != nil {
		app.logger.Error(context.Background(), "shutdown error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
