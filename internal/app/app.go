// Package app wires configuration, storage, domain services and transports
// into a running API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/domain/cart"
	"github.com/xenking/oolio-delivery/internal/domain/order"
	"github.com/xenking/oolio-delivery/internal/handler"
	"github.com/xenking/oolio-delivery/internal/notify"
	"github.com/xenking/oolio-delivery/internal/stream"
	"github.com/xenking/oolio-delivery/pkg/health"
	"github.com/xenking/oolio-delivery/pkg/httpmiddleware"
)

const serviceName = "delivery-api"

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStores(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	healthSvc := health.New()
	for _, c := range st.checks {
		healthSvc.Ready(c)
	}
	healthSvc.Live(health.Check{Name: "goroutines", Timeout: time.Second, Func: health.GoroutineCountCheck(10000)})

	g, gctx := errgroup.WithContext(ctx)

	// Notifications: in-process hub, optionally relayed across instances.
	hub, err := notify.NewHub(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create notification hub")
	}
	var publisher notify.Publisher = hub
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		relay := notify.NewRedisRelay(rdb, cfg.Redis.Channel, hub)
		publisher = relay
		healthSvc.Ready(health.Check{Name: "redis", Timeout: 2 * time.Second, Func: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		g.Go(func() error {
			return errors.Wrap(relay.Run(gctx), "notification relay")
		})
	}

	orderOpts := []order.Option{
		order.WithConfirmationURL(cfg.ConfirmationURL),
		order.WithTelemetry(m.MeterProvider(), m.TracerProvider()),
	}

	// The producer stops only after the server has drained.
	producerCtx, stopProducer := context.WithCancel(context.WithoutCancel(gctx))
	defer stopProducer()
	if len(cfg.Kafka.Brokers) > 0 {
		producer := stream.NewProducer(stream.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Buffer:   cfg.Kafka.Buffer,
			Producer: serviceName,
		})
		orderOpts = append(orderOpts, order.WithJournal(producer))
		g.Go(func() error {
			return errors.Wrap(producer.Run(producerCtx), "order stream")
		})
		lg.Info("Order stream enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Domain services.
	cartService := cart.NewService(st.carts, st.catalog)
	orderService := order.NewService(st.orders, cartService, st.users, publisher, orderOpts...)

	h := handler.NewHandler(
		handler.Config{
			SendBuffer:     cfg.WebSocket.SendBuffer,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			PingInterval:   cfg.WebSocket.PingInterval,
			AllowedOrigins: websocketOrigins(cfg.CORS.Origins),
		},
		cartService,
		orderService,
		st.catalog,
		auth.NewVerifier(st.keys, []byte(cfg.APIKeyPepper)),
		hub,
	)

	router := h.Routes()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           serverHandler(gctx, zctx.From(ctx), m, cfg, router),
	}

	healthSvc.Start(gctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for cancellation or a failed worker, drain,
	// then stop the server and the producer.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopProducer()
		healthSvc.Stop()
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

// serverHandler wraps router with the middleware chain every request passes
// through. Rate limiter buckets are evicted until ctx is done.
func serverHandler(ctx context.Context, lg *zap.Logger, t httpmiddleware.Telemetry, cfg *Config, router chi.Router) http.Handler {
	routeFinder := httpmiddleware.MakeRouteFinder(router)
	return httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.HeaderUserID, handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.KeyByHeader(handler.HeaderUserID),
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument(serviceName, routeFinder, t),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
}

// websocketOrigins maps the CORS allow list onto websocket origin checks.
// A wildcard allows any origin.
func websocketOrigins(origins []string) []string {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}
