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

	httpapi "github.com/aussiebroadwan/farmgate/internal/auth/http"
	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/farmgate/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/farmgate/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns the auth service dependencies and their lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	ephemeral store.Ephemeral
	tokens    *jwtx.TokenIssuer

	handshake           *service.AuthHandshake
	tokenService        *service.TokenService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService // memory driver only

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialised.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initEphemeral(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	secret := cfg.TokenSecret
	if secret == "" {
		// Validate only allows this outside production.
		secret = cryptox.MustGenerateToken(cryptox.TokenSize256)
		app.logger.Warn("AUTH_TOKEN_SECRET is empty, using a per-process secret; tokens will not survive a restart")
	}

	tokens, err := jwtx.NewTokenIssuer([]byte(secret), jwtx.IssuerConfig{
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.tokens = tokens

	app.initServices()

	seed := service.SeedConfig{
		Identifier:  cfg.AdminIdentifier,
		DisplayName: cfg.AdminDisplayName,
		Password:    cfg.AdminPassword,
	}
	if err := app.userService.SeedAdmin(context.Background(), app.logger, seed); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to seed administrator: %w", err)
	}

	app.initHTTP()

	app.logger.Info("tokens are not revocable; a leaked token stays valid until it expires",
		"access_ttl", tokens.AccessTTL(),
		"refresh_ttl", cfg.RefreshTTL,
	)
	if cfg.ExposeOTP {
		app.logger.Warn("one-time codes are echoed in login-start responses", "env", cfg.Env)
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	if app.housekeepingService != nil {
		app.housekeepingService.Start()
	}

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"ephemeral", app.cfg.EphemeralDriver,
		"notifier", app.cfg.Notifier,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown drains the HTTP server then closes the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeepingService != nil {
		app.housekeepingService.Stop()
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if err := app.ephemeral.Close(); err != nil {
		app.logger.Error("error closing ephemeral store", "error", err)
		errs = append(errs, err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initEphemeral opens the store holding pending sessions and one-time codes.
// Only the redis driver survives restarts or can be shared by replicas.
func (app *Application) initEphemeral() error {
	switch app.cfg.EphemeralDriver {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		eph, err := redis.Open(ctx, app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB, redis.DefaultPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.ephemeral = eph
		app.logger.Info("ephemeral store connected", "driver", "redis", "addr", app.cfg.RedisAddr)
	default:
		eph := memory.NewEphemeral()
		app.ephemeral = eph
		app.housekeepingService = service.NewHousekeepingService(eph, app.logger, app.cfg.HousekeepingInterval)
		app.logger.Info("ephemeral store ready", "driver", "memory")
	}
	return nil
}

func (app *Application) initServices() {
	otp := service.NewOTPChallengeStore(app.ephemeral, app.cfg.OTPTTL)
	otp.FixedCode = app.cfg.FixedOTP

	app.handshake = &service.AuthHandshake{
		Store:     app.db,
		OTP:       otp,
		Sessions:  service.NewPendingSessionStore(app.ephemeral, app.cfg.PendingTTL),
		Tokens:    app.tokens,
		Notifier:  app.newNotifier(),
		ExposeOTP: app.cfg.ExposeOTP,
	}
	app.tokenService = &service.TokenService{Store: app.db, Tokens: app.tokens}
	app.userService = &service.UserService{Store: app.db}
}

func (app *Application) newNotifier() service.Notifier {
	if app.cfg.Notifier == "webhook" {
		return service.NewWebhookNotifier(app.cfg.NotifierWebhookURL, app.cfg.NotifierAPIKey)
	}
	return &service.LogNotifier{
		Logger:      app.logger,
		IncludeCode: !app.cfg.IsProduction(),
	}
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.tokens,
		BuildVersion,
		app.db,
		app.ephemeral,
		app.logger,
	)

	router.Handshake = app.handshake
	router.TokenService = app.tokenService
	router.UserService = app.userService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
