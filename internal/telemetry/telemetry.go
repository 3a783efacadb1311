package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcncl/worker-echo/internal/logging"
	"github.com/mcncl/worker-echo/internal/middleware/request"
)

// Provider wraps the OpenTelemetry trace provider and exporter
type Provider struct {
	tp     *sdktrace.TracerProvider
	config Config
	mu     sync.RWMutex
	isInit bool
}

// Config holds configuration for telemetry setup
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SamplingRatio  float64
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		ServiceName:    "worker-echo",
		SamplingRatio:  0.1,
		MaxExportBatch: 512,  // 512 spans
		MaxQueueSize:   2048, // 2048 spans
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint cannot be empty")
	}
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf("sampling ratio must be between 0 and 1")
	}
	return nil
}

// NewProvider creates a new telemetry provider
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MaxExportBatch == 0 {
		cfg.MaxExportBatch = DefaultConfig().MaxExportBatch
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}

	return &Provider{
		config: cfg,
	}, nil
}

// Start exports spans over OTLP/gRPC to the configured endpoint. The
// exporter connects lazily, so an unreachable collector does not fail startup.
func (p *Provider) Start(ctx context.Context) error {
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)

	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	return p.StartWithExporter(ctx, exp)
}

// StartWithExporter initializes the provider with an arbitrary span exporter
func (p *Provider) StartWithExporter(ctx context.Context, exp sdktrace.SpanExporter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInit {
		return fmt.Errorf("provider already initialized")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(p.config.ServiceName),
			semconv.ServiceVersionKey.String(p.config.ServiceVersion),
			attribute.String("environment", p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(p.config.MaxExportBatch),
			sdktrace.WithMaxQueueSize(p.config.MaxQueueSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SamplingRatio))),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.isInit = true

	return nil
}

// ForceFlush exports all buffered spans
func (p *Provider) ForceFlush(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isInit {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the trace provider and its exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isInit {
		return nil
	}

	p.isInit = false

	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down trace provider: %w", err)
	}
	return nil
}

func (p *Provider) tracer() trace.Tracer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isInit {
		return nil
	}
	return p.tp.Tracer(p.config.ServiceName)
}

// TracingMiddleware wraps an http.Handler with a server span per request.
// Incoming W3C trace context is honoured.
func (p *Provider) TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := p.tracer()
		if tracer == nil {
			next.ServeHTTP(w, r)
			return
		}

		name, attrs := methodAttributes(r.Method)
		attrs = append(attrs,
			semconv.URLPath(r.URL.EscapedPath()),
			semconv.ServerAddress(r.Host),
			attribute.String("request.id", request.IDFromContext(r.Context())),
		)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		lrw := logging.NewLogResponseWriter(w)
		next.ServeHTTP(lrw, r.WithContext(ctx))

		status := lrw.StatusCode()
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(status),
			attribute.Int("http.response.body.size", lrw.Size()),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// methodAttributes names a server span after its method. Routes are not
// known here, so the path only goes into attributes. Methods outside the
// standard set are reported as "_OTHER" with the original kept aside.
func methodAttributes(method string) (string, []attribute.KeyValue) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return method, []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(method)}
	default:
		return "HTTP", []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String("_OTHER"),
			attribute.String("http.request.method_original", method),
		}
	}
}
