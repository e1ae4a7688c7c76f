package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagates well-formed id", "req-incoming_123.a", true},
		{"generates when missing", "", false},
		{"replaces overlong id", strings.Repeat("a", maxRequestIDLen+1), false},
		{"replaces id with control chars", "abc\ninjected=1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.incoming != "" {
				req.Header.Set(RequestIDHeader, tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header id %q, context id %q", got, seen)
			}
			if (got == tc.incoming) != tc.keep {
				t.Fatalf("id = %q, keep incoming = %v", got, tc.keep)
			}
		})
	}
}
