package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/cache"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/delivery"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	httpapi "github.com/aussiebroadwan/tollgate/internal/tollgate/http"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/metrics"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/service"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store/drivers/postgres"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	principalCachePrefix = "tollgate:principal:"
)

// Application owns the credential engine, the flows built on it and the
// ops HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockx.Clock

	// Core dependencies
	db         store.Store
	keyManager *jwtx.KeyManager
	metrics    *metrics.Metrics
	redis      *redis.Client // nil when the principal cache is in-process
	dispatcher *delivery.Dispatcher
	hasher     cryptox.Hasher

	// Services
	Engine        *service.CredentialEngine
	Directory     service.PrincipalDirectory
	Tokens        *service.TokenAssembler
	Refresh       *service.RefreshService
	Authenticator *service.AuthenticatorService
	MFA           *service.MFAService
	Sessions      *service.SessionService
	Resets        *service.PasswordResetService
	Verification  *service.VerificationService
	sweeper       *service.RetentionSweeper

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:   cfg,
		clock: clockx.System(),
		logger: slogx.New(slogx.Config{
			Service: "tollgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	pepper, err := cryptox.LoadOrGeneratePepper(cfg.PepperFile)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.Hasher{Pepper: pepper}

	if app.metrics, err = metrics.NewGlobal(); err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if app.keyManager, err = InitKeys(cfg, app.clock, app.logger); err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}

	principals, err := app.initCache()
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(principals); err != nil {
		_ = app.closeDependencies()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.sweeper.Start()

	app.logger.Info("tollgate starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.sweeper.Stop()
			_ = app.closeDependencies()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains the HTTP server and pending deliveries, then closes
// the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tollgate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.sweeper.Stop()

	if err := app.closeDependencies(); err != nil {
		return err
	}

	app.logger.Info("tollgate stopped")
	return nil
}

func (app *Application) closeDependencies() error {
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase opens the configured store and applies migrations
func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.StoreDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.StoreDriver)
	return nil
}

// initCache picks redis when REDIS_URL is set, otherwise an in-process
// cache scoped to this instance.
func (app *Application) initCache() (cache.Cache[domain.Principal], error) {
	if app.cfg.RedisURL == "" {
		app.logger.Info("principal cache in memory", "ttl", app.cfg.PrincipalCacheTTL)
		return cache.NewMemory[domain.Principal](app.cfg.PrincipalCacheTTL, cache.WithClock(app.clock)), nil
	}

	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	app.redis = redis.NewClient(opts)

	app.logger.Info("principal cache in redis", "addr", opts.Addr, "ttl", app.cfg.PrincipalCacheTTL)
	return cache.NewRedis[domain.Principal](app.redis, principalCachePrefix, app.cfg.PrincipalCacheTTL), nil
}

// initServices wires the engine and every flow on top of it
func (app *Application) initServices(principals cache.Cache[domain.Principal]) error {
	policies, err := app.cfg.Policies()
	if err != nil {
		return err
	}

	codec := service.SecretCodec{Mode: service.DigestMode(app.cfg.CodeDigest), Hasher: app.hasher}
	app.Engine = service.NewCredentialEngine(app.db, app.clock, codec, policies)
	app.Engine.StoreTimeout = app.cfg.StoreTimeout
	app.Engine.Metrics = app.metrics

	app.Directory = &service.CachedDirectory{
		Next:  &service.StoreDirectory{Store: app.db, StoreTimeout: app.cfg.StoreTimeout},
		Cache: principals,
	}

	var sender delivery.Sender = delivery.LogSender{Logger: app.logger}
	if app.cfg.SMTPAddr != "" {
		smtp, err := delivery.NewSMTPSender(app.cfg.SMTPAddr, app.cfg.SMTPUser, app.cfg.SMTPPassword, app.cfg.SMTPFrom)
		if err != nil {
			return fmt.Errorf("failed to configure smtp: %w", err)
		}
		sender = smtp
		app.logger.Info("smtp delivery enabled", "addr", app.cfg.SMTPAddr)
	} else {
		app.logger.Warn("no SMTP_ADDR set - codes and links are written to the log")
	}
	app.dispatcher = delivery.NewDispatcher(sender, delivery.DispatcherConfig{
		Workers:       app.cfg.DeliveryWorkers,
		RatePerMinute: app.cfg.DeliveryRatePerMinute,
		Logger:        app.logger,
		Metrics:       app.metrics,
	})

	app.Tokens = &service.TokenAssembler{
		Keys:          app.keyManager,
		Issuer:        app.cfg.Issuer,
		Audience:      []string{app.cfg.Issuer},
		AccessTTL:     app.cfg.AccessTTL,
		OnboardingTTL: app.cfg.OnboardingTTL,
		Clock:         app.clock,
	}
	app.Refresh = &service.RefreshService{
		Engine:      app.Engine,
		MaxActive:   app.cfg.RefreshMaxActive,
		RotateOnUse: app.cfg.RefreshRotateOnUse,
	}
	app.Authenticator = &service.AuthenticatorService{
		Engine:    app.Engine,
		Directory: app.Directory,
		Issuer:    app.cfg.Issuer,
	}
	app.MFA = &service.MFAService{
		Engine:         app.Engine,
		Directory:      app.Directory,
		Sender:         app.dispatcher,
		Authenticator:  app.Authenticator,
		ResendCooldown: app.cfg.MFAResendCooldown,
		DefaultMethod:  domain.MFAMethod(app.cfg.MFAMethod),
	}
	app.Sessions = &service.SessionService{
		Engine:        app.Engine,
		Directory:     app.Directory,
		Tokens:        app.Tokens,
		RefreshTokens: app.Refresh,
		MFA:           app.MFA,
		Passwords:     app.hasher,
		MFARequired:   app.cfg.MFARequired,
	}
	app.Resets = &service.PasswordResetService{
		Engine:    app.Engine,
		Directory: app.Directory,
		Sender:    app.dispatcher,
		Passwords: app.hasher,
	}
	app.Verification = &service.VerificationService{
		Engine:          app.Engine,
		Directory:       app.Directory,
		Sender:          app.dispatcher,
		FrontendBaseURL: app.cfg.FrontendBaseURL,
	}

	app.sweeper = service.NewRetentionSweeper(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.RetentionGrace,
		app.clock,
	)
	app.sweeper.Metrics = app.metrics
	return nil
}

// initHTTP initializes the ops router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.logger,
	)
	if app.redis != nil {
		client := app.redis
		router.Cache = httpapi.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
