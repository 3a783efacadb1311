package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		setReady   bool
		checks     map[string]CheckFunc
		wantStatus int
		wantBody   string
		wantFailed []string
	}{
		{
			name:       "health check returns healthy",
			path:       "/health",
			setReady:   false, // health does not depend on readiness
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name:       "readiness check when ready",
			path:       "/ready",
			setReady:   true,
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name:       "readiness check when not ready",
			path:       "/ready",
			setReady:   false,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not ready",
		},
		{
			name:     "readiness with passing checks",
			path:     "/ready",
			setReady: true,
			checks: map[string]CheckFunc{
				"kv": func(ctx context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name:     "readiness with failing check",
			path:     "/ready",
			setReady: true,
			checks: map[string]CheckFunc{
				"kv":    func(ctx context.Context) error { return fmt.Errorf("redis: connection refused") },
				"other": func(ctx context.Context) error { return nil },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not ready",
			wantFailed: []string{"kv"},
		},
		{
			name:     "health ignores failing checks",
			path:     "/health",
			setReady: true,
			checks: map[string]CheckFunc{
				"kv": func(ctx context.Context) error { return fmt.Errorf("down") },
			},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthCheck()
			hc.SetReady(tt.setReady)
			for name, fn := range tt.checks {
				hc.AddCheck(name, fn)
			}

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			switch tt.path {
			case "/health":
				hc.HealthHandler(w, req)
			case "/ready":
				hc.ReadyHandler(w, req)
			}

			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", w.Code, tt.wantStatus)
			}

			var got struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got.Status != tt.wantBody {
				t.Errorf("got status %q, want %q", got.Status, tt.wantBody)
			}
			if len(got.Checks) != len(tt.wantFailed) {
				t.Errorf("failed checks = %v, want %v", got.Checks, tt.wantFailed)
			}
			for _, name := range tt.wantFailed {
				if _, ok := got.Checks[name]; !ok {
					t.Errorf("check %q not reported as failed", name)
				}
			}
		})
	}
}

func TestHealthCheckConcurrency(t *testing.T) {
	hc := NewHealthCheck()
	hc.AddCheck("noop", func(ctx context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hc.SetReady(i%2 == 0)
			hc.AddCheck("noop", func(ctx context.Context) error { return nil })
		}
	}()

	// either answer is fine, this only exercises the locking
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		hc.ReadyHandler(w, req)
	}
	<-done
}
