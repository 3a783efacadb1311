package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	tests := []struct {
		name            string
		config          SecurityConfig
		method          string
		headers         map[string]string
		wantStatus      int
		wantReached     bool
		wantHeaders     map[string]string
		dontWantHeaders []string
	}{
		{
			name:        "adds security headers",
			config:      DefaultConfig(),
			method:      http.MethodGet,
			wantStatus:  http.StatusTeapot,
			wantReached: true,
			wantHeaders: map[string]string{
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "DENY",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'",
				"Referrer-Policy":         "strict-origin-when-cross-origin",
			},
		},
		{
			name: "answers CORS preflight",
			config: SecurityConfig{
				AllowedOrigins: []string{"https://example.com"},
				AllowedMethods: []string{"POST", "OPTIONS"},
				AllowedHeaders: []string{"X-Test-Header"},
				MaxAge:         3600,
			},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://example.com",
				"Access-Control-Request-Method": "POST",
			},
			wantStatus:  http.StatusOK,
			wantReached: false,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "https://example.com",
				"Access-Control-Allow-Methods": "POST, OPTIONS",
				"Access-Control-Allow-Headers": "X-Test-Header",
				"Access-Control-Max-Age":       "3600",
			},
		},
		{
			name:   "plain OPTIONS reaches the handler",
			config: DefaultConfig(),
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin": "https://example.com",
			},
			wantStatus:  http.StatusTeapot,
			wantReached: true,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Origin": "https://example.com",
			},
		},
		{
			name: "blocks disallowed origin",
			config: SecurityConfig{
				AllowedOrigins: []string{"https://example.com"},
				AllowedMethods: []string{"POST"},
			},
			method: http.MethodPost,
			headers: map[string]string{
				"Origin": "https://evil.com",
			},
			wantStatus:  http.StatusTeapot,
			wantReached: true,
			dontWantHeaders: []string{
				"Access-Control-Allow-Origin",
				"Access-Control-Allow-Methods",
			},
		},
		{
			name:        "handles requests without origin",
			config:      DefaultConfig(),
			method:      http.MethodGet,
			wantStatus:  http.StatusTeapot,
			wantReached: true,
			dontWantHeaders: []string{
				"Access-Control-Allow-Origin",
				"Access-Control-Allow-Methods",
			},
		},
		{
			name: "allows wildcard origin",
			config: SecurityConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"POST"},
			},
			method: http.MethodPost,
			headers: map[string]string{
				"Origin": "https://any-domain.com",
			},
			wantStatus:  http.StatusTeapot,
			wantReached: true,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Origin": "https://any-domain.com",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			handler := WithSecurityHeaders(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusTeapot)
			}))

			req := httptest.NewRequest(tt.method, "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", w.Code, tt.wantStatus)
			}
			if reached != tt.wantReached {
				t.Errorf("handler reached = %v, want %v", reached, tt.wantReached)
			}

			for header, want := range tt.wantHeaders {
				if got := w.Header().Get(header); got != want {
					t.Errorf("header %s = %q, want %q", header, got, want)
				}
			}

			for _, header := range tt.dontWantHeaders {
				if got := w.Header().Get(header); got != "" {
					t.Errorf("header %s = %q, want empty", header, got)
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	contains := func(list []string, want string) bool {
		for _, v := range list {
			if v == want {
				return true
			}
		}
		return false
	}

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if !contains(config.AllowedMethods, m) {
			t.Errorf("DefaultConfig() missing method %s", m)
		}
	}
	for _, h := range []string{"Content-Type", "X-Request-ID"} {
		if !contains(config.AllowedHeaders, h) {
			t.Errorf("DefaultConfig() missing header %s", h)
		}
	}
	if config.MaxAge <= 0 {
		t.Errorf("DefaultConfig() MaxAge = %d, want positive", config.MaxAge)
	}
}
