package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/callback"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/checkout"
	"github.com/jishnu-pg/yesbuy-storefront/internal/config"
	"github.com/jishnu-pg/yesbuy-storefront/internal/content"
	"github.com/jishnu-pg/yesbuy-storefront/internal/handlers"
	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/idempotency"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/observability"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/secrets"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

const (
	cleanupBatch    = 500
	intentSweepTick = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storefront HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, closeSecrets, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer closeSecrets()

	baseLogger, err := observability.NewLogger(cfg.Telemetry.LogLevel)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	store, submissions, closeStores, err := openStores(ctx, cfg.Intents)
	if err != nil {
		logger.Error("failed to open stores", zap.String("driver", cfg.Intents.Driver), zap.Error(err))
		return err
	}
	defer closeStores()

	app, err := buildApp(cfg, store, submissions, logger)
	if err != nil {
		logger.Error("failed to build storefront", zap.Error(err))
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.meters.Shutdown(shutdownCtx); err != nil {
			logger.Warn("meter provider shutdown error", zap.Error(err))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.RunJanitor(cleanupCtx, app.submissions, cfg.Idempotency.CleanupInterval, cleanupBatch,
				observability.NewPrintfAdapter(logger.Named("idempotency")))
		}()
	}
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		sweepIntents(cleanupCtx, store, logger.Named("intents"))
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           app.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("storefront listening",
			zap.String("addr", srv.Addr),
			zap.String("easebuzz_env", cfg.Easebuzz.Env),
			zap.String("intent_driver", cfg.Intents.Driver),
			zap.Bool("card_payments", app.cardEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := app.reconciler.Wait(shutdownCtx); err != nil {
		logger.Warn("pending transaction updates abandoned", zap.Error(err))
	}
	cleanupCancel()
	cleanupWG.Wait()
	logger.Info("storefront stopped")
	return runErr
}

// loadConfig reads configuration, dialing Secret Manager first when a project is named.
func loadConfig(ctx context.Context) (config.Config, func(), error) {
	opts := []config.Option{config.WithEnvFile(envFile)}
	closer := func() {}

	if project := config.Lookup("STOREFRONT_SECRETS_PROJECT", config.WithEnvFile(envFile)); project != "" {
		resolver, err := secrets.NewResolver(ctx, project, nil)
		if err != nil {
			return config.Config{}, closer, fmt.Errorf("initialise secret resolver: %w", err)
		}
		closer = func() { _ = resolver.Close() }
		opts = append(opts, config.WithSecretResolver(resolver))
	}

	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		closer()
		return config.Config{}, func() {}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, closer, nil
}

// openStores opens the intent store and, on the same database, the submission store.
func openStores(ctx context.Context, cfg config.IntentConfig) (intent.Store, idempotency.Store, func(), error) {
	if cfg.Driver != "postgres" {
		return intent.NewMemoryStore(), idempotency.NewMemoryStore(), func() {}, nil
	}
	pg, err := intent.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	submissions, err := idempotency.NewPostgresStore(ctx, pg.DB())
	if err != nil {
		_ = pg.Close()
		return nil, nil, nil, err
	}
	return pg, submissions, func() { _ = pg.Close() }, nil
}

type app struct {
	router      *chi.Mux
	reconciler  *callback.Reconciler
	submissions idempotency.Store
	meters      *sdkmetric.MeterProvider
	cardEnabled bool
}

// buildApp wires the storefront's services into the router.
func buildApp(cfg config.Config, store intent.Store, submissions idempotency.Store, logger *zap.Logger) (*app, error) {
	client := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger.Named("backend")),
	)
	carts := cart.NewService(client, cart.WithLogger(logger.Named("cart")))

	gateway, err := payments.NewEasebuzz(payments.EasebuzzConfig{
		SDKURLs:       cfg.Easebuzz.SDKURLs,
		ProbeDelay:    cfg.Easebuzz.ProbeDelay,
		ProbeInterval: cfg.Easebuzz.ProbeInterval,
		ProbeAttempts: cfg.Easebuzz.ProbeAttempts,
		SDKCacheTTL:   cfg.Easebuzz.SDKCacheTTL,
		TestBaseURL:   cfg.Easebuzz.TestBaseURL,
		ProdBaseURL:   cfg.Easebuzz.ProdBaseURL,
		IntentTTL:     cfg.Intents.TTL,
	}, store, payments.WithEasebuzzLogger(logger.Named("easebuzz")))
	if err != nil {
		return nil, err
	}

	classifierOpts := []payments.ClassifierOption{payments.WithStrictStatus(cfg.Easebuzz.StrictStatus)}
	if cfg.Easebuzz.Key != "" && cfg.Easebuzz.Salt != "" {
		classifierOpts = append(classifierOpts, payments.WithHashVerification(cfg.Easebuzz.Key, cfg.Easebuzz.Salt))
	}
	classifier := payments.NewClassifier(classifierOpts...)

	providers, cardEnabled, err := buildProviders(cfg.Stripe, logger)
	if err != nil {
		return nil, err
	}

	meters := sdkmetric.NewMeterProvider()
	dispatcher, err := checkout.NewDispatcher(client, gateway,
		checkout.WithLogger(logger.Named("checkout")),
		checkout.WithMeterProvider(meters),
	)
	if err != nil {
		return nil, err
	}
	reconciler, err := callback.NewReconciler(store, classifier, client,
		callback.WithLogger(logger.Named("callback")),
		callback.WithIntentTTL(cfg.Intents.TTL),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.Secure,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		return nil, err
	}

	router, err := handlers.New(handlers.Config{
		Backend:        client,
		Carts:          carts,
		Dispatcher:     dispatcher,
		Reconciler:     reconciler,
		Providers:      providers,
		Sessions:       sessions,
		Idempotency:    submissions,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Content:        content.NewRenderer(),
		Logger:         logger,
		ServiceName:    cfg.Telemetry.ServiceName,
		SiteURL:        cfg.Server.SiteURL,
		// Leaves room for the gateway probe inside the write deadline.
		RequestTimeout: cfg.Server.WriteTimeout - time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		router:      router,
		reconciler:  reconciler,
		submissions: submissions,
		meters:      meters,
		cardEnabled: cardEnabled,
	}, nil
}

// buildProviders registers Stripe for card payments when a key is configured.
func buildProviders(cfg config.StripeConfig, logger *zap.Logger) (*payments.Manager, bool, error) {
	if cfg.APIKey == "" {
		return nil, false, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.APIKey,
		Logger: logger.Named("stripe"),
	})
	if err != nil {
		return nil, false, err
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithMethodRoutes(map[string]string{"CARD": "stripe"}),
	)
	if err != nil {
		return nil, false, err
	}
	return manager, true, nil
}

func sweepIntents(ctx context.Context, store intent.Store, logger *zap.Logger) {
	ticker := time.NewTicker(intentSweepTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cleanupBatch)
			cancel()
			if err != nil {
				logger.Error("intent cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("intent cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}
