package echo

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcncl/worker-echo/internal/console"
	"github.com/mcncl/worker-echo/internal/errors"
	"github.com/mcncl/worker-echo/internal/kv"
	"github.com/mcncl/worker-echo/internal/logging"
	"github.com/mcncl/worker-echo/internal/metrics"
)

const (
	// DefaultKVKey is used on the kv path when no key query parameter is given
	DefaultKVKey = "the-key"
	// DefaultKVTTL is the expiry applied to values written on the kv path
	DefaultKVTTL = 3600 * time.Second
	// DefaultMaxRequestSize caps the request body the handler will read
	DefaultMaxRequestSize = 1 << 20
)

// Branch names, also used as the metrics label
const (
	BranchNone    = "none"
	BranchVars    = "vars"
	BranchKV      = "kv"
	BranchConsole = "console"
)

// Vars are the externally configured values reflected on the vars path
type Vars struct {
	Foo  string
	Spam string
	// Testing is reported as TESTING when set, and omitted when nil
	Testing *bool
}

// Config holds the configuration for the echo handler
type Config struct {
	Vars Vars
	// Store backs the kv path. A nil store disables it.
	Store   kv.Store
	Console *console.Console

	EnableVars    bool
	EnableKV      bool
	EnableConsole bool
	IncludeHash   bool

	KVTTL          time.Duration
	MaxRequestSize int64
}

// DefaultConfig returns a Config with every branch switched on
func DefaultConfig() Config {
	return Config{
		EnableVars:     true,
		EnableKV:       true,
		EnableConsole:  true,
		IncludeHash:    true,
		KVTTL:          DefaultKVTTL,
		MaxRequestSize: DefaultMaxRequestSize,
	}
}

// Handler echoes every request it receives as a JSON Document
type Handler struct {
	cfg     Config
	console *console.Console
	tracer  trace.Tracer
}

// NewHandler creates a new echo handler
func NewHandler(cfg Config) *Handler {
	if cfg.KVTTL <= 0 {
		cfg.KVTTL = DefaultKVTTL
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}

	c := cfg.Console
	if c == nil {
		c = console.New(slog.Default(), "")
	}

	return &Handler{
		cfg:     cfg,
		console: c,
		tracer:  otel.Tracer("worker-echo"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := h.tracer.Start(r.Context(), "echo.handle",
		trace.WithAttributes(attribute.String("http.request.method", r.Method)))
	defer span.End()

	doc, branch, err := h.build(ctx, w, r)
	span.SetAttributes(attribute.String("echo.branch", branch))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "echo failed")
		h.handleError(w, r, err, branch, start)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		err = errors.Wrap(err, "failed to encode document")
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		h.handleError(w, r, err, branch, start)
		return
	}

	w.Header().Set("x-foo", "bar")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.FromContext(ctx).Debug("Failed to write response", "error", err)
	}

	metrics.RecordRequest(r.Method, "200", branch, time.Since(start).Seconds())
}

// build derives the Document for r and runs the branch selected by its path
func (h *Handler) build(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Document, string, error) {
	branch := BranchNone

	if err := parseTarget(r); err != nil {
		return nil, branch, err
	}

	u := NewURL(r, h.cfg.IncludeHash)
	h.console.Log(ctx, "handling request:", r.Method, u.Pathname)

	body, err := h.readBody(w, r)
	if err != nil {
		return nil, branch, err
	}
	metrics.RecordBodySize(r.Method, len(body))

	doc := &Document{
		Method:  r.Method,
		Headers: FlattenHeaders(r.Header),
		URL:     u,
		Body:    body,
		Testing: h.cfg.Vars.Testing,
	}

	switch path := CleanPath(u.Pathname); {
	case path == BranchVars && h.cfg.EnableVars:
		branch = BranchVars
		doc.Vars = map[string]string{
			"FOO":  h.cfg.Vars.Foo,
			"SPAM": h.cfg.Vars.Spam,
		}

	case path == BranchKV && h.cfg.EnableKV && h.cfg.Store != nil:
		branch = BranchKV
		key := u.Params["key"]
		if key == "" {
			key = DefaultKVKey
		}
		value, err := h.roundTrip(ctx, key, body)
		if err != nil {
			return nil, branch, err
		}
		doc.KV = map[string]*string{key: value}

	case path == BranchConsole && h.cfg.EnableConsole:
		branch = BranchConsole
		h.console.Log(ctx, "the console path")
		h.console.Info(ctx, 1, 2.5, true)
		h.console.Warn(ctx, nil)
		h.console.Error(ctx, map[string]string{"foo": "bar"})
	}

	return doc, branch, nil
}

func (h *Handler) readBody(rw http.ResponseWriter, r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}

	data, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, h.cfg.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return "", errors.WithDetails(
				errors.NewValidationError("request body too large"),
				map[string]interface{}{"limit": tooLarge.Limit},
			)
		}
		return "", errors.Wrap(err, "failed to read request body")
	}
	return string(data), nil
}

// roundTrip writes value under key and reads it straight back. A nil result
// means the store reported the key absent.
func (h *Handler) roundTrip(ctx context.Context, key, value string) (*string, error) {
	if err := h.storeCall(ctx, "put", key, func(ctx context.Context) error {
		return h.cfg.Store.Put(ctx, key, value, kv.PutOptions{ExpirationTTL: h.cfg.KVTTL})
	}); err != nil {
		return nil, err
	}

	var (
		got   string
		found bool
	)
	if err := h.storeCall(ctx, "get", key, func(ctx context.Context) error {
		var err error
		got, found, err = h.cfg.Store.Get(ctx, key)
		return err
	}); err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}
	return &got, nil
}

func (h *Handler) storeCall(ctx context.Context, op, key string, fn func(context.Context) error) error {
	ctx, span := h.tracer.Start(ctx, "kv."+op,
		trace.WithAttributes(attribute.String("kv.key", key)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordKVOperation(op, err, time.Since(start).Seconds())

	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "kv "+op+" failed")

	if errors.IsStoreError(err) {
		return err
	}
	return errors.NewStoreError("kv "+op+" failed", err)
}

// handleError logs err and writes it as an ErrorResponse. Nothing of the
// partially built document is returned.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, branch string, start time.Time) {
	status := errors.StatusCode(err)
	errorType := errors.TypeOf(err)

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Echo failed", "error", err, "error_type", errorType, "branch", branch)
	} else {
		logger.Warn("Echo rejected", "error", err, "error_type", errorType, "branch", branch)
	}

	metrics.RecordError(errorType)
	metrics.RecordRequest(r.Method, strconv.Itoa(status), branch, time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errors.ToErrorResponse(err)); err != nil {
		metrics.RecordError("json_encode")
	}
}

func errInvalidTarget(msg string) error {
	return errors.NewValidationError("invalid request target: " + msg)
}
