package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront-perks/internal/catalog"
	"github.com/xenking/storefront-perks/internal/handler"
	"github.com/xenking/storefront-perks/internal/mail"
	"github.com/xenking/storefront-perks/internal/maintenance"
	"github.com/xenking/storefront-perks/internal/report"
	"github.com/xenking/storefront-perks/internal/retry"
	"github.com/xenking/storefront-perks/internal/storage/postgres"
	"github.com/xenking/storefront-perks/internal/welcome"
	"github.com/xenking/storefront-perks/pkg/health"
	"github.com/xenking/storefront-perks/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// Catalog client.
	catalogClient, err := catalog.NewHTTPClient(catalog.HTTPClientConfig{
		BaseURL: cfg.Catalog.URL,
		Token:   cfg.Catalog.AccessToken,
		Timeout: cfg.Catalog.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create catalog client")
	}

	// Optional PostgreSQL-backed issuance lock. Without it, concurrent
	// issuance for the same customer falls back on the catalog's own
	// uniqueness constraint.
	var locker welcome.Locker
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()
		locker = postgres.NewIssuanceLocker(pool)
		lg.Info("Issuance lock enabled")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("catalog", 5*time.Second, catalogClient.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	issuer := welcome.NewService(catalogClient, locker, cfg.Catalog.PriceRuleID)

	var notifier report.Notifier
	if cfg.ReportWebhookURL != "" {
		notifier = report.NewWebhook(cfg.ReportWebhookURL)
	}
	sweeper := maintenance.NewSweeper(
		catalogClient,
		retry.NewPolicy(cfg.Retry.MaxRetries, cfg.Retry.InitialDelay),
		notifier,
		cfg.Catalog.PriceRuleID,
		cfg.Retention.MaxAge,
	)

	mailer, err := mail.NewService(
		mail.NewResendProvider(cfg.Email.ResendAPIKey),
		mail.Config{FromEmail: cfg.Email.FromEmail, FromName: cfg.Email.FromName},
	)
	if err != nil {
		return errors.Wrap(err, "create mail service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{
			WebhookSecret: cfg.Secrets.Webhook,
			CronSecret:    cfg.Secrets.Cron,
		},
		issuer, sweeper, mailer, catalogClient,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux)

	instrumented := otelhttp.NewHandler(mux, "perks",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// The maintenance job runs synchronously inside a request, so the
		// write timeout has to cover a full sweep with retries.
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
