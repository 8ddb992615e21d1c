package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	cases := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantReached bool
	}{
		{
			name:        "listed origin",
			allowed:     []string{"https://consent.example.com"},
			method:      http.MethodPost,
			origin:      "https://consent.example.com",
			wantStatus:  http.StatusAccepted,
			wantOrigin:  "https://consent.example.com",
			wantReached: true,
		},
		{
			name:        "trailing slash in config",
			allowed:     []string{" https://consent.example.com/ "},
			method:      http.MethodPost,
			origin:      "https://consent.example.com",
			wantStatus:  http.StatusAccepted,
			wantOrigin:  "https://consent.example.com",
			wantReached: true,
		},
		{
			name:        "unlisted origin passes through without headers",
			allowed:     []string{"https://consent.example.com"},
			method:      http.MethodPost,
			origin:      "https://other.example",
			wantStatus:  http.StatusAccepted,
			wantReached: true,
		},
		{
			name:        "wildcard echoes origin",
			allowed:     []string{"*"},
			method:      http.MethodGet,
			origin:      "https://kiosk.example",
			wantStatus:  http.StatusAccepted,
			wantOrigin:  "https://kiosk.example",
			wantReached: true,
		},
		{
			name:        "no origin header",
			allowed:     []string{"*"},
			method:      http.MethodPost,
			wantStatus:  http.StatusAccepted,
			wantReached: true,
		},
		{
			name:       "preflight from listed origin",
			allowed:    []string{"https://consent.example.com"},
			method:     http.MethodOptions,
			origin:     "https://consent.example.com",
			preflight:  true,
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://consent.example.com",
		},
		{
			name:       "preflight from unlisted origin",
			allowed:    []string{"https://consent.example.com"},
			method:     http.MethodOptions,
			origin:     "https://evil.example",
			preflight:  true,
			wantStatus: http.StatusForbidden,
		},
		{
			name:        "empty list disables cors",
			allowed:     nil,
			method:      http.MethodPost,
			origin:      "https://consent.example.com",
			wantStatus:  http.StatusAccepted,
			wantReached: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusAccepted)
			})

			req := httptest.NewRequest(tc.method, "/submissions", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			CORS(tc.allowed)(next).ServeHTTP(rec, req)

			if reached != tc.wantReached {
				t.Fatalf("handler reached = %v, want %v", reached, tc.wantReached)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tc.wantOrigin)
			}
			if tc.wantOrigin != "" {
				if got := rec.Header().Get("Access-Control-Allow-Headers"); got != corsAllowedHeaders {
					t.Fatalf("allow headers = %q", got)
				}
				if got := rec.Header().Get("Access-Control-Allow-Methods"); got != corsAllowedMethods {
					t.Fatalf("allow methods = %q", got)
				}
			}
		})
	}
}
