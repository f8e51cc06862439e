package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/quickcart/commerce/internal/di"
	"github.com/quickcart/commerce/internal/platform/config"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/platform/secrets"
	"github.com/quickcart/commerce/internal/services"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "commerce-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	resolver := secrets.NewResolver(ctx, cfg.Secrets, cfg.Security.Environment, clientOpts,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(observability.DefaultMeter()),
	)
	defer func() { _ = resolver.Close() }()

	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("required secrets are empty", zap.Strings("secrets", missing.RedactedNames()))
		}
		return err
	}

	build := services.BuildInfo{Version: cfg.Build.Version, Environment: cfg.Security.Environment, StartedAt: startedAt}
	app, err := newApplication(ctx, cfg, build, logger, resolver, clientOpts)
	if err != nil {
		return err
	}
	defer app.close(logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workers, cancelWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, worker := range app.workers {
		wg.Add(1)
		go func(work func(context.Context)) {
			defer wg.Done()
			work(workers)
		}(worker)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("commerce api listening",
			zap.String("addr", server.Addr),
			zap.String("persistence", cfg.Persistence.Driver),
			zap.String("events", cfg.Events.Backend),
			zap.String("version", build.Version),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		err = server.Shutdown(shutdownCtx)
		cancel()
	}

	cancelWorkers()
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// application is everything run needs besides the HTTP server itself.
type application struct {
	router    http.Handler
	workers   []func(context.Context)
	container *di.Container
}

func (a *application) close(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.container.Close(ctx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}
