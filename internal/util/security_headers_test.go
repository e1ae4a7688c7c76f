package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurityHeaders(req *http.Request, inner http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	WithSecurityHeaders(inner).ServeHTTP(rec, req)
	return rec
}

func TestWithSecurityHeadersDefaults(t *testing.T) {
	rec := serveWithSecurityHeaders(httptest.NewRequest(http.MethodGet, "/documents/1", nil),
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	for name, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(name); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("unexpected HSTS on plain http: %q", got)
	}
}

func TestWithSecurityHeadersHSTSBehindProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	rec := serveWithSecurityHeaders(req, func(http.ResponseWriter, *http.Request) {})
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("expected HSTS for forwarded https")
	}
}

func TestWithSecurityHeadersStreamOverridesCaching(t *testing.T) {
	rec := serveWithSecurityHeaders(httptest.NewRequest(http.MethodPost, "/chat-stream", nil),
		func(w http.ResponseWriter, _ *http.Request) {
			sse, err := NewSSEWriter(w)
			if err != nil {
				t.Fatalf("sse writer: %v", err)
			}
			_ = sse.Send(map[string]string{"type": "content"})
		})
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q, want no-cache for event streams", got)
	}
}
