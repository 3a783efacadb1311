package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		fn       func(*slog.Logger)
		contains []string
		excludes []string
	}{
		{
			name:     "debug logs show in debug level",
			logLevel: "debug",
			fn: func(l *slog.Logger) {
				l.Debug("debug message")
			},
			contains: []string{"debug message", `"level":"DEBUG"`},
		},
		{
			name:     "debug logs don't show in info level",
			logLevel: "info",
			fn: func(l *slog.Logger) {
				l.Debug("debug message")
			},
			excludes: []string{"debug message"},
		},
		{
			name:     "warn logs show in info level",
			logLevel: "info",
			fn: func(l *slog.Logger) {
				l.Warn("warn message")
			},
			contains: []string{"warn message", `"level":"WARN"`},
		},
		{
			name:     "warn logs don't show in error level",
			logLevel: "error",
			fn: func(l *slog.Logger) {
				l.Warn("warn message")
			},
			excludes: []string{"warn message"},
		},
		{
			name:     "upper-case level is honoured",
			logLevel: "DEBUG",
			fn: func(l *slog.Logger) {
				l.Debug("debug message")
			},
			contains: []string{"debug message"},
		},
		{
			name:     "mixed-case warn level hides info",
			logLevel: " Warn ",
			fn: func(l *slog.Logger) {
				l.Info("info message")
			},
			excludes: []string{"info message"},
		},
		{
			name:     "unknown level falls back to info",
			logLevel: "loud",
			fn: func(l *slog.Logger) {
				l.Debug("debug message")
				l.Info("info message")
			},
			contains: []string{"info message"},
			excludes: []string{"debug message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.logLevel, "json")

			tt.fn(logger)

			logOutput := buf.String()
			for _, s := range tt.contains {
				if !strings.Contains(logOutput, s) {
					t.Errorf("expected log to contain %q, got %q", s, logOutput)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(logOutput, s) {
					t.Errorf("expected log to NOT contain %q, got %q", s, logOutput)
				}
			}
		})
	}
}

func TestLogFormats(t *testing.T) {
	var jsonBuf bytes.Buffer
	New(&jsonBuf, "info", "json").Info("hello", "path", "/kv")

	var entry map[string]interface{}
	if err := json.Unmarshal(jsonBuf.Bytes(), &entry); err != nil {
		t.Fatalf("json format produced invalid JSON: %v", err)
	}
	if entry["path"] != "/kv" {
		t.Errorf("path = %v, want /kv", entry["path"])
	}

	var textBuf bytes.Buffer
	New(&textBuf, "info", "text").Info("hello", "path", "/kv")
	if !strings.Contains(textBuf.String(), "path=/kv") {
		t.Errorf("text format output %q missing path=/kv", textBuf.String())
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json").With("request_id", "abc")

	ctx := WithContext(context.Background(), logger)
	FromContext(ctx).Info("from context")

	if !strings.Contains(buf.String(), `"request_id":"abc"`) {
		t.Errorf("context logger lost its attributes: %q", buf.String())
	}

	if FromContext(context.Background()) != slog.Default() {
		t.Errorf("FromContext without a logger should return slog.Default()")
	}
}

func TestLogResponseWriter(t *testing.T) {
	tests := []struct {
		name        string
		writeStatus int
		body        string
		wantStatus  int
		wantSize    int
	}{
		{
			name:       "defaults to 200",
			body:       "hello",
			wantStatus: http.StatusOK,
			wantSize:   5,
		},
		{
			name:        "captures error status",
			writeStatus: http.StatusServiceUnavailable,
			body:        `{"status":"error"}`,
			wantStatus:  http.StatusServiceUnavailable,
			wantSize:    18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			w := NewLogResponseWriter(rec)

			if tt.writeStatus != 0 {
				w.WriteHeader(tt.writeStatus)
			}
			if _, err := w.Write([]byte(tt.body)); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			if w.StatusCode() != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", w.StatusCode(), tt.wantStatus)
			}
			if w.Size() != tt.wantSize {
				t.Errorf("Size() = %d, want %d", w.Size(), tt.wantSize)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("recorder code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
