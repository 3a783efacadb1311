package request

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		sleepTime   time.Duration
		wantTimeout bool
	}{
		{
			name:        "completes within timeout",
			timeout:     200 * time.Millisecond,
			sleepTime:   10 * time.Millisecond,
			wantTimeout: false,
		},
		{
			name:        "exceeds timeout",
			timeout:     20 * time.Millisecond,
			sleepTime:   100 * time.Millisecond,
			wantTimeout: true,
		},
		{
			name:        "zero timeout disables the deadline",
			timeout:     0,
			sleepTime:   10 * time.Millisecond,
			wantTimeout: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var timedOut bool
			handler := WithTimeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
					timedOut = true
				case <-time.After(tt.sleepTime):
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if timedOut != tt.wantTimeout {
				t.Errorf("timed out = %v, want %v", timedOut, tt.wantTimeout)
			}
		})
	}
}

func TestWithTimeoutChain(t *testing.T) {
	var hasDeadline bool
	var id string
	handler := WithTimeout(time.Second)(
		WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
			id = IDFromContext(r.Context())
		})),
	)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !hasDeadline {
		t.Error("chained handler should see the deadline")
	}
	if id == "" {
		t.Error("chained handler should see the request ID")
	}
	if w.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", w.Code, http.StatusOK)
	}
}
