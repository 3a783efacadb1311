package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"

	"github.com/mcncl/worker-echo/internal/config"
	"github.com/mcncl/worker-echo/internal/console"
	"github.com/mcncl/worker-echo/internal/errors"
	"github.com/mcncl/worker-echo/internal/kv"
	"github.com/mcncl/worker-echo/internal/logging"
	"github.com/mcncl/worker-echo/internal/metrics"
	loggingMiddleware "github.com/mcncl/worker-echo/internal/middleware/logging"
	"github.com/mcncl/worker-echo/internal/middleware/request"
	"github.com/mcncl/worker-echo/internal/middleware/security"
	"github.com/mcncl/worker-echo/internal/publisher"
	"github.com/mcncl/worker-echo/internal/telemetry"
	"github.com/mcncl/worker-echo/pkg/echo"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	envFile := flag.String("env-file", "", "Path to a dotenv file loaded before reading the environment")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides the configuration")
	logFormat := flag.String("log-format", "", "Log format (json, text), overrides the configuration")
	probeURL := flag.String("probe", "", "Send one request to the echo service at this base URL, print the document and exit")
	probePath := flag.String("probe-path", "/", "Path requested in probe mode")
	flag.Parse()

	if *probeURL != "" {
		if err := probe(context.Background(), os.Stdout, *probeURL, *probePath); err != nil {
			fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// used until the configuration is known
	logger := logging.NewLogger(orDefault(*logLevel, "info"), orDefault(*logFormat, "json"))

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Error("Failed to load env file", "error", err, "path", *envFile)
		os.Exit(1)
	}

	override := &config.Config{
		Server: config.ServerConfig{
			LogLevel:  *logLevel,
			LogFormat: *logFormat,
		},
	}
	cfg, err := config.Load(*configFile, override)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = logging.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}

// run wires every component from cfg and serves until ctx is canceled
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Log the configuration (with sensitive values masked)
	logger.Info("Configuration loaded", "config", cfg.String())

	healthCheck := echo.NewHealthCheck()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.InitMetrics(reg); err != nil {
		return errors.Wrap(err, "failed to initialize metrics")
	}

	store, closeStore, err := newStore(ctx, cfg.KV, healthCheck)
	if err != nil {
		return err
	}
	defer closeStore()

	con, err := newConsole(ctx, cfg.Console, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := con.Close(); err != nil {
			logger.Warn("Console close error", "error", err)
		}
	}()

	var tp *telemetry.Provider
	if cfg.Telemetry.EnableTracing {
		tp, err = newTelemetry(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown error", "error", err)
			}
		}()
	}

	echoSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newEchoHandler(ctx, cfg, store, con, logger, tp),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}
	adminSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:           newAdminMux(reg, healthCheck),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"echo": echoSrv, "admin": adminSrv} {
		go func(name string, srv *http.Server) {
			logger.Info("Server starting", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- errors.Wrap(err, name+" server failed")
			}
		}(name, srv)
	}

	// Mark as ready to receive traffic
	healthCheck.SetReady(true)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
	case serveErr = <-errCh:
	}

	// Graceful shutdown
	healthCheck.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := echoSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "server", "echo", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "server", "admin", "error", err)
	}

	return serveErr
}

// newStore builds the configured key-value store and registers its
// readiness check. The returned func releases the store.
func newStore(ctx context.Context, cfg config.KVConfig, hc *echo.HealthCheck) (kv.Store, func(), error) {
	var store kv.Store

	switch cfg.Backend {
	case "redis":
		client, err := kv.Connect(ctx, kv.RedisConfig{
			URL:            cfg.Redis.URL,
			RetryAttempts:  cfg.Redis.RetryAttempts,
			RetryInterval:  cfg.Redis.RetryInterval.Duration,
			ConnectTimeout: cfg.Redis.ConnectTimeout.Duration,
		})
		if err != nil {
			err = errors.Wrap(errors.NewConnectionError(err.Error()), "failed to connect to Redis")
			return nil, nil, errors.WithDetails(err, map[string]interface{}{
				"backend":   cfg.Backend,
				"namespace": cfg.Namespace,
			})
		}
		store = kv.NewRedisStore(client, cfg.Namespace)

	default:
		mem := kv.NewMemoryStore(cfg.Namespace)
		mem.StartJanitor(ctx, cfg.JanitorInterval.Duration)
		store = mem
	}

	return store, attachStore(store, hc), nil
}

// attachStore registers a "kv" readiness check for stores that can report
// their health and returns the release func for stores holding connections.
func attachStore(store kv.Store, hc *echo.HealthCheck) func() {
	if c, ok := store.(kv.Checker); ok {
		hc.AddCheck("kv", c.Ping)
	}
	if c, ok := store.(kv.Closer); ok {
		return func() { _ = c.Close() }
	}
	return func() {}
}

// newConsole builds the console, publishing to Pub/Sub through a circuit
// breaker when enabled. Client options are passed to the Pub/Sub client.
func newConsole(ctx context.Context, cfg config.ConsoleConfig, logger *slog.Logger, opts ...option.ClientOption) (*console.Console, error) {
	if !cfg.EnablePublish {
		return console.New(logger, cfg.Source), nil
	}

	pub, err := publisher.NewPubSubPublisher(ctx, cfg.ProjectID, cfg.TopicID, opts...)
	if err != nil {
		err = errors.NewPublishError("failed to create console publisher", err)
		return nil, errors.WithDetails(err, map[string]interface{}{
			"project_id": cfg.ProjectID,
			"topic_id":   cfg.TopicID,
		})
	}

	breaker := publisher.NewCircuitBreaker(pub, publisher.DefaultCircuitBreakerConfig())
	metrics.RecordCircuitState(breaker.State().String(), publisher.AllStates()...)
	breaker.SetOnStateChange(func(from, to publisher.CircuitState) {
		metrics.RecordCircuitState(to.String(), publisher.AllStates()...)
		logger.Warn("Console publisher circuit changed state",
			"from", from.String(),
			"to", to.String(),
			"rejected", breaker.Stats().Rejected,
		)
	})

	return console.New(logger, cfg.Source, console.WithPublisher(breaker)), nil
}

func newTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.ServiceName
	tcfg.ServiceVersion = version
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SamplingRatio = cfg.SamplingRatio

	tp, err := telemetry.NewProvider(tcfg)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if err := tp.Start(ctx); err != nil {
		return nil, errors.NewConnectionError("failed to start tracing: " + err.Error())
	}
	return tp, nil
}

// newEchoHandler builds the echo handler behind its middleware chain. tp may be nil.
func newEchoHandler(ctx context.Context, cfg *config.Config, store kv.Store, con *console.Console, logger *slog.Logger, tp *telemetry.Provider) http.Handler {
	handler := echo.NewHandler(echo.Config{
		Vars: echo.Vars{
			Foo:     cfg.Echo.Foo,
			Spam:    cfg.Echo.Spam,
			Testing: cfg.Echo.Testing,
		},
		Store:          store,
		Console:        con,
		EnableVars:     cfg.Echo.EnableVars,
		EnableKV:       cfg.Echo.EnableKV,
		EnableConsole:  cfg.Echo.EnableConsole,
		IncludeHash:    cfg.Echo.IncludeHash,
		KVTTL:          cfg.Echo.KVTTL.Duration,
		MaxRequestSize: cfg.Server.MaxRequestSize,
	})

	securityConfig := security.SecurityConfig{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		AllowedMethods: cfg.Security.AllowedMethods,
		AllowedHeaders: cfg.Security.AllowedHeaders,
		MaxAge:         3600,
	}

	var ipLimiter *security.IPRateLimiter
	if cfg.Security.IPRateLimit > 0 {
		ipLimiter = security.NewIPRateLimiter(cfg.Security.IPRateLimit).TrustProxy(cfg.Security.TrustProxy)
		ipLimiter.StartCleanup(ctx, 5*time.Minute)
	}

	// Note: The order of middleware is important!
	middlewares := []func(http.Handler) http.Handler{
		request.WithRequestID, // Generate request ID first
	}
	if tp != nil {
		middlewares = append(middlewares, tp.TracingMiddleware)
	}
	middlewares = append(middlewares,
		loggingMiddleware.WithStructuredLogging(logger),
		security.WithSecurityHeaders(securityConfig),
		security.WithRateLimit(cfg.Security.RateLimit), // Global rate limiting
		security.WithIPRateLimit(ipLimiter),             // IP-based rate limiting
		request.WithTimeout(cfg.Server.RequestTimeout.Duration), // Timeout last
	)

	return chainMiddleware(handler, middlewares...)
}

// newAdminMux serves health, readiness and metrics on their own listener so
// that no echo path is shadowed
func newAdminMux(reg *prometheus.Registry, hc *echo.HealthCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", hc.HealthHandler)
	mux.HandleFunc("/ready", hc.ReadyHandler)
	return mux
}

// probe requests path from a running echo service and prints the document
func probe(ctx context.Context, out io.Writer, baseURL, path string) error {
	client := echo.NewClient(baseURL)

	resp, err := client.Get(ctx, path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Document)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Middleware chain helper - applies middleware in reverse order
// so they execute in the order they're passed
func chainMiddleware(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
