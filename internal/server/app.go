// Package server wires the FlyFile server together: database, object
// storage, key ring, rate limiter, services and the HTTP and gRPC listeners.
// It also runs the background jobs (notification workers, expiry sweep,
// limiter housekeeping) and shuts everything down on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/cryptox"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/auth"
	"github.com/dmitrijs2005/flyfile/internal/server/billing"
	"github.com/dmitrijs2005/flyfile/internal/server/config"
	"github.com/dmitrijs2005/flyfile/internal/server/credentials"
	"github.com/dmitrijs2005/flyfile/internal/server/notify"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/flyfile/internal/server/rest"
	"github.com/dmitrijs2005/flyfile/internal/server/services"
	"github.com/dmitrijs2005/flyfile/internal/server/shared/db"
	"github.com/dmitrijs2005/flyfile/internal/server/storage"

	gs "github.com/dmitrijs2005/flyfile/internal/server/grpc"
)

const (
	shutdownTimeout     = 10 * time.Second
	limiterSweepPeriod  = time.Minute
	healthCheckInterval = 10 * time.Second
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	dispatcher *notify.Dispatcher
	counter    *ratelimit.MemoryCounter
	valkey     *ratelimit.ValkeyCounter
	transfers  *services.TransferService
	handler    http.Handler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, c.DatabaseDSN, db.DefaultOptions())
	if err != nil {
		return nil, err
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app := &App{config: c, logger: logger, db: conn}
	if err := app.build(ctx, rm); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return app, nil
}

// build constructs the services and the HTTP handler.
func (app *App) build(ctx context.Context, rm repomanager.RepositoryManager) error {
	c := app.config

	store, err := storage.NewS3Storage(ctx, storage.Options{
		Region:       c.S3Region,
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}

	keys, err := cryptox.NewKeyRing([]byte(c.MasterKeyPassphrase), []byte(c.MasterKeySalt))
	if err != nil {
		return fmt.Errorf("key ring init error: %w", err)
	}

	var counter ratelimit.Counter
	switch c.RateLimitBackend {
	case "valkey":
		app.valkey, err = ratelimit.NewValkeyCounter(c.ValkeyAddr, "flyfile:rl:")
		if err != nil {
			return err
		}
		counter = app.valkey
	case "", "memory":
		app.counter = ratelimit.NewMemoryCounter()
		counter = app.counter
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend)
	}
	limiter := ratelimit.New(counter, ratelimit.DefaultPolicies(), app.logger)

	app.dispatcher = notify.NewDispatcher(c.NotifyWorkers, c.NotifyQueueSize, app.logger)
	mailer := notify.LogSender{Logger: app.logger.With("module", "mail")}

	quota := services.NewQuotaService(app.db, rm)
	anonymous := services.NewAnonymousService(app.db, rm, limiter, app.dispatcher, mailer, app.logger)
	app.transfers = services.NewTransferService(app.db, rm, c, services.TransferDeps{
		Store:     store,
		Keys:      keys,
		Limiter:   limiter,
		Hasher:    credentials.NewPasswordHasher(c.BcryptCost),
		Quota:     quota,
		Anonymous: anonymous,
		Queue:     app.dispatcher,
		Mailer:    mailer,
		Logger:    app.logger,
	})
	apiKeys := services.NewAPIKeyService(app.db, rm, app.logger)

	proxies, err := ratelimit.NewTrustedProxies(c.TrustedProxies)
	if err != nil {
		return err
	}

	h := rest.NewHandler(rest.Deps{
		Transfers: app.transfers,
		Anonymous: anonymous,
		TwoFactor: services.NewTwoFactorService(app.db, rm, limiter, c.TOTPIssuer, app.logger),
		APIKeys:   apiKeys,
		Webhooks:  services.NewWebhookService(app.db, rm),
		Billing:   billing.NewService(app.db, rm, billing.NewStripeClient(c.StripeBaseURL, c.StripeSecretKey), app.logger),
		Gate:      access.NewGate(auth.NewVerifier([]byte(c.JWTSecret), c.JWTIssuer), apiKeys),
		Limiter:   limiter,
		Origins:   access.NewOriginChecker(c.AllowedOrigins, c.Production),
		Proxies:   proxies,
		DB:        app.db,
		Logger:    app.logger,
	}, rest.Options{
		Production:              c.Production,
		CronSecret:              c.CronSecret,
		MaxEncryptedUploadBytes: c.MaxEncryptedUploadBytes,
	})
	app.handler = h.Routes()
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
	// In-flight handlers may still submit background work until Shutdown returns.
	<-stopped
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.GRPCHealthAddr, app.db, healthCheckInterval, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runSweeper deletes expired transfers every SweepInterval.
func (app *App) runSweeper(ctx context.Context) {
	if app.config.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := app.transfers.ExpirySweep(ctx); err != nil {
				app.logger.Error(ctx, "expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// The dispatcher outlives the other runners so that work submitted by
	// handlers finishing during shutdown still runs.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		app.dispatcher.Run(notifyCtx)
	}()

	run(func() { app.runSweeper(ctx) })
	run(func() { app.startHTTPServer(ctx, cancelFunc) })
	run(func() { app.startGRPCServer(ctx, cancelFunc) })
	if app.counter != nil {
		run(func() { app.counter.Run(ctx, limiterSweepPeriod) })
	}

	wg.Wait()
	stopNotify()
	<-notifyDone
	app.close(context.Background())
}

func (app *App) close(ctx context.Context) {
	if app.valkey != nil {
		app.valkey.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
