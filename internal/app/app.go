package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/integration/events"
	"github.com/xenking/kart-checkout/internal/integration/gateway"
	"github.com/xenking/kart-checkout/internal/integration/wallet"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Telemetry provides the tracer and meter providers. *app.Telemetry from
// go-faster/sdk satisfies it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and the event
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	pricing, err := cfg.Pricing.Policy()
	if err != nil {
		return errors.Wrap(err, "pricing")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	be, err := openBackend(ctx, lg, cfg, healthSvc)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer be.close()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// The dispatcher outlives the request context so events raised while
	// the server drains are still written.
	eventsCtx, stopEvents := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEvents()

	var notifier notify.Dispatcher = notify.Nop{}
	var dispatcher *events.Dispatcher
	if len(cfg.Events.Brokers) > 0 {
		dispatcher = events.NewDispatcher(events.NewWriter(cfg.Events), cfg.Events.QueueSize, lg.Named("events"))
		notifier = dispatcher
	} else {
		lg.Warn("No event brokers configured, checkout events are discarded")
	}

	deps := be.deps
	deps.Gateway = gateway.New(cfg.Gateway, lg.Named("gateway"), m.TracerProvider(), m.MeterProvider())
	deps.Wallet = wallet.New(cfg.Wallet, lg.Named("wallet"), m.TracerProvider(), m.MeterProvider())
	deps.Notifier = notifier

	svc, err := checkout.NewService(
		checkout.Config{Currency: cfg.Currency, Pricing: pricing},
		deps,
		lg.Named("checkout"),
		m.TracerProvider(),
		m.MeterProvider(),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Replicas share rate limit counters when redis is available.
	var limiter httpmiddleware.Limiter
	if be.redis != nil {
		limiter = httpmiddleware.NewRedisLimiter(be.redis, "checkout:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error { return ml.Run(gctx) })
		limiter = ml
	}

	h := handler.NewHandler(svc)
	securityHandler := handler.NewSecurityHandler(be.apiKeys, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Router(securityHandler))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Gateway and wallet calls happen inside requests.
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
			}),
			httpmiddleware.Instrument("checkout-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	if dispatcher != nil {
		g.Go(func() error {
			return dispatcher.Run(eventsCtx)
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		stopEvents()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
