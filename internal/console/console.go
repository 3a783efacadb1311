// Package console emits per-request console messages. Each message is
// written to the structured logger and, when a publisher is configured,
// forwarded to it so an external harness can assert on what a request logged.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcncl/worker-echo/internal/metrics"
	"github.com/mcncl/worker-echo/internal/middleware/request"
	"github.com/mcncl/worker-echo/internal/publisher"
)

// Level is the console method a message was emitted with
type Level string

const (
	LevelLog   Level = "LOG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DefaultSource names the emitter when none is configured
const DefaultSource = "echo"

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Message is one console emission
type Message struct {
	Level     Level         `json:"level"`
	Args      []interface{} `json:"args"`
	Message   string        `json:"message"`
	Source    string        `json:"source"`
	RequestID string        `json:"request_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// String renders the message as "LEVEL source> message"
func (m Message) String() string {
	return fmt.Sprintf("%s %s> %s", m.Level, m.Source, m.Message)
}

// FormatArgs joins the JSON encoding of each argument with ", ".
// Arguments that cannot be encoded fall back to their quoted fmt form.
func FormatArgs(args ...interface{}) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatArg(arg))
	}
	return strings.Join(parts, ", ")
}

func formatArg(arg interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arg); err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(arg))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Option configures a Console
type Option func(*Console)

// WithPublisher forwards every message to pub
func WithPublisher(pub publisher.Publisher) Option {
	return func(c *Console) {
		c.publisher = pub
	}
}

// WithPublishTimeout bounds each forward to the publisher
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Console) {
		c.publishTimeout = d
	}
}

// Console writes console messages for a single process
type Console struct {
	logger         *slog.Logger
	publisher      publisher.Publisher
	source         string
	publishTimeout time.Duration
	now            func() time.Time

	wg sync.WaitGroup
}

// New creates a Console writing to logger. An empty source uses DefaultSource.
func New(logger *slog.Logger, source string, opts ...Option) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = DefaultSource
	}

	c := &Console{
		logger:         logger,
		source:         source,
		publishTimeout: 5 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) Log(ctx context.Context, args ...interface{}) Message {
	return c.emit(ctx, LevelLog, args)
}

func (c *Console) Info(ctx context.Context, args ...interface{}) Message {
	return c.emit(ctx, LevelInfo, args)
}

func (c *Console) Warn(ctx context.Context, args ...interface{}) Message {
	return c.emit(ctx, LevelWarn, args)
}

func (c *Console) Error(ctx context.Context, args ...interface{}) Message {
	return c.emit(ctx, LevelError, args)
}

func (c *Console) emit(ctx context.Context, level Level, args []interface{}) Message {
	if args == nil {
		args = []interface{}{}
	}

	msg := Message{
		Level:     level,
		Args:      args,
		Message:   FormatArgs(args...),
		Source:    c.source,
		RequestID: request.IDFromContext(ctx),
		Timestamp: c.now().UTC(),
	}

	c.logger.Log(ctx, level.slogLevel(), msg.String(),
		"console_level", string(level),
		"request_id", msg.RequestID,
	)

	if c.publisher == nil {
		metrics.RecordConsoleMessage(string(level), "logged")
		return msg
	}

	c.wg.Add(1)
	go c.publish(context.WithoutCancel(ctx), msg)

	return msg
}

// publish runs detached from the request so a slow sink never holds up the
// response. Failures are logged and counted, never returned.
func (c *Console) publish(ctx context.Context, msg Message) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	attrs := map[string]string{"level": string(msg.Level)}
	if msg.RequestID != "" {
		attrs["request_id"] = msg.RequestID
	}

	if _, err := c.publisher.Publish(ctx, msg, attrs); err != nil {
		metrics.RecordConsoleMessage(string(msg.Level), "dropped")
		c.logger.Debug("Console message not published",
			"error", err,
			"request_id", msg.RequestID,
		)
		return
	}
	metrics.RecordConsoleMessage(string(msg.Level), "published")
}

// Flush waits for in-flight publishes to finish
func (c *Console) Flush() {
	c.wg.Wait()
}

// Close flushes and closes the publisher, if any
func (c *Console) Close() error {
	c.Flush()
	if c.publisher == nil {
		return nil
	}
	return c.publisher.Close()
}
