package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mcncl/worker-echo/internal/logging"
	"github.com/mcncl/worker-echo/internal/middleware/request"
	"github.com/mcncl/worker-echo/internal/publisher"
)

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args []interface{}
		want string
	}{
		{
			name: "request line",
			args: []interface{}{"handling request:", "GET", "/the/path/"},
			want: `"handling request:", "GET", "/the/path/"`,
		},
		{
			name: "numbers and booleans",
			args: []interface{}{1, 2.5, true},
			want: `1, 2.5, true`,
		},
		{
			name: "null",
			args: []interface{}{nil},
			want: `null`,
		},
		{
			name: "object",
			args: []interface{}{map[string]string{"foo": "bar"}},
			want: `{"foo":"bar"}`,
		},
		{
			name: "html is not escaped",
			args: []interface{}{"<b>&</b>"},
			want: `"<b>&</b>"`,
		},
		{
			name: "no args",
			args: nil,
			want: ``,
		},
		{
			name: "unencodable falls back to fmt",
			args: []interface{}{make(chan int)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatArgs(tt.args...)
			if tt.name == "unencodable falls back to fmt" {
				if !strings.HasPrefix(got, `"0x`) {
					t.Errorf("FormatArgs() = %s, want quoted pointer", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("FormatArgs() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConsole_Levels(t *testing.T) {
	fixed := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		emit      func(c *Console, ctx context.Context) Message
		wantLevel Level
		wantSlog  string
		wantLine  string
	}{
		{
			name:      "log",
			emit:      func(c *Console, ctx context.Context) Message { return c.Log(ctx, "handling request:", "GET", "/") },
			wantLevel: LevelLog,
			wantSlog:  "INFO",
			wantLine:  `LOG echo> "handling request:", "GET", "/"`,
		},
		{
			name:      "info",
			emit:      func(c *Console, ctx context.Context) Message { return c.Info(ctx, 1, 2.5, true) },
			wantLevel: LevelInfo,
			wantSlog:  "INFO",
			wantLine:  `INFO echo> 1, 2.5, true`,
		},
		{
			name:      "warn",
			emit:      func(c *Console, ctx context.Context) Message { return c.Warn(ctx, nil) },
			wantLevel: LevelWarn,
			wantSlog:  "WARN",
			wantLine:  `WARN echo> null`,
		},
		{
			name:      "error",
			emit:      func(c *Console, ctx context.Context) Message { return c.Error(ctx, map[string]string{"foo": "bar"}) },
			wantLevel: LevelError,
			wantSlog:  "ERROR",
			wantLine:  `ERROR echo> {"foo":"bar"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := New(logging.New(&buf, "debug", "json"), "")
			c.now = func() time.Time { return fixed }

			ctx := request.ContextWithID(context.Background(), "req-1")
			msg := tt.emit(c, ctx)

			if msg.Level != tt.wantLevel {
				t.Errorf("Level = %s, want %s", msg.Level, tt.wantLevel)
			}
			if msg.String() != tt.wantLine {
				t.Errorf("String() = %s, want %s", msg.String(), tt.wantLine)
			}
			if msg.RequestID != "req-1" {
				t.Errorf("RequestID = %q, want req-1", msg.RequestID)
			}
			if !msg.Timestamp.Equal(fixed) {
				t.Errorf("Timestamp = %v, want %v", msg.Timestamp, fixed)
			}

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("log output is not JSON: %v: %s", err, buf.String())
			}
			if entry["level"] != tt.wantSlog {
				t.Errorf("slog level = %v, want %s", entry["level"], tt.wantSlog)
			}
			if entry["msg"] != tt.wantLine {
				t.Errorf("slog msg = %v, want %s", entry["msg"], tt.wantLine)
			}
			if entry["request_id"] != "req-1" {
				t.Errorf("slog request_id = %v, want req-1", entry["request_id"])
			}
		})
	}
}

func TestConsole_Source(t *testing.T) {
	c := New(nil, "worker.js")
	msg := c.Log(context.Background(), "x")
	if msg.String() != `LOG worker.js> "x"` {
		t.Errorf("String() = %s", msg.String())
	}
	if msg.Args == nil {
		t.Error("Args should never be nil")
	}
}

func TestConsole_Publishes(t *testing.T) {
	pub := publisher.NewMockPublisher()
	var buf bytes.Buffer
	c := New(logging.New(&buf, "info", "json"), "", WithPublisher(pub))

	ctx := request.ContextWithID(context.Background(), "req-42")
	c.Warn(ctx, "careful")
	c.Log(context.Background(), "no id")
	c.Flush()

	published := pub.GetPublished()
	if len(published) != 2 {
		t.Fatalf("published %d messages, want 2", len(published))
	}

	byLevel := make(map[string]publisher.PublishedMessage)
	for _, p := range published {
		byLevel[p.Attributes["level"]] = p
	}

	warn, ok := byLevel["WARN"]
	if !ok {
		t.Fatalf("WARN message not published: %+v", published)
	}
	if warn.Attributes["request_id"] != "req-42" {
		t.Errorf("request_id attribute = %q", warn.Attributes["request_id"])
	}
	if msg, ok := warn.Data.(Message); !ok || msg.Message != `"careful"` {
		t.Errorf("published data = %#v", warn.Data)
	}

	logMsg, ok := byLevel["LOG"]
	if !ok {
		t.Fatalf("LOG message not published: %+v", published)
	}
	if _, ok := logMsg.Attributes["request_id"]; ok {
		t.Error("request_id attribute should be omitted when there is no request ID")
	}
}

func TestConsole_PublishFailureIsSwallowed(t *testing.T) {
	pub := publisher.NewMockPublisher()
	pub.SetError(fmt.Errorf("sink down"))

	var buf bytes.Buffer
	c := New(logging.New(&buf, "debug", "json"), "", WithPublisher(pub))

	msg := c.Error(context.Background(), "boom")
	c.Flush()

	if msg.Message != `"boom"` {
		t.Errorf("Message = %s", msg.Message)
	}
	if !strings.Contains(buf.String(), "Console message not published") {
		t.Errorf("expected publish failure to be logged, got %s", buf.String())
	}
}

func TestConsole_PublishOutlivesRequestContext(t *testing.T) {
	pub := publisher.NewMockPublisher()
	c := New(nil, "", WithPublisher(pub))

	ctx, cancel := context.WithCancel(context.Background())
	c.Log(ctx, "late")
	cancel()
	c.Flush()

	if len(pub.GetPublished()) != 1 {
		t.Errorf("published %d messages, want 1", len(pub.GetPublished()))
	}
}

func TestConsole_Close(t *testing.T) {
	pub := publisher.NewMockPublisher()
	c := New(nil, "", WithPublisher(pub))
	c.Log(context.Background(), "x")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !pub.Closed() {
		t.Error("Close() should close the publisher")
	}
	if len(pub.GetPublished()) != 1 {
		t.Error("Close() should flush pending publishes")
	}

	if err := New(nil, "").Close(); err != nil {
		t.Errorf("Close() without publisher error = %v", err)
	}
}
