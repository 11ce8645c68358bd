package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"apicatalog.org/internal/obs"
)

func TestRateLimitPerClient(t *testing.T) {
	var served int
	handler := RequestID(RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusNoContent)
	}), 1, 0.01))

	req := httptest.NewRequest(http.MethodPost, "/v1/requests/creation/c-1/approve", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req.Clone(context.Background()))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first call: status %d", first.Code)
	}

	limited := httptest.NewRecorder()
	handler.ServeHTTP(limited, req.Clone(context.Background()))
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: want 429, got %d", limited.Code)
	}
	if served != 1 {
		t.Fatalf("limited call reached the handler (%d calls)", served)
	}
	if limited.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	var body struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(limited.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "rate_limited" || body.RequestID == "" {
		t.Fatalf("unexpected body: %s", limited.Body.String())
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusNoContent {
		t.Fatalf("another client must have its own bucket, got %d", rr3.Code)
	}
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("request id = %q / %q", seen, rr.Header().Get(requestIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestLoggingJSONAccessLine(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	logger.SetFlags(0)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/memberships/m-7/accept", nil)
	req.Header.Set(requestIDHeader, "req-42")
	req.Header.Set("User-Agent", "portal-ui")
	req.RemoteAddr = "192.0.2.10:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("access line is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":        "request_complete",
		"request_id": "req-42",
		"method":     http.MethodPost,
		"path":       "/v1/memberships/m-7/accept",
		"status":     float64(http.StatusConflict),
		"remote_ip":  "192.0.2.10",
		"user_agent": "portal-ui",
	}
	for key, v := range want {
		if entry[key] != v {
			t.Fatalf("%s = %v, want %v", key, entry[key], v)
		}
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Fatal("missing duration_ms")
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"https://portal.gov.example/"})

	cases := []struct {
		origin  string
		allowed bool
	}{
		{origin: "https://portal.gov.example", allowed: true},
		{origin: "http://localhost:4200", allowed: true},
		{origin: "https://evil.example", allowed: false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/v1/me", nil)
		req.Header.Set("Origin", tc.origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("preflight status = %d", rr.Code)
		}
		got := rr.Header().Get("Access-Control-Allow-Origin") == tc.origin
		if got != tc.allowed {
			t.Fatalf("origin %s allowed=%v, want %v", tc.origin, got, tc.allowed)
		}
	}
}

func TestMaxBodyBytes(t *testing.T) {
	handler := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 16)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a rather long value"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected oversized body to fail, got %d", rr.Code)
	}
}

func TestRealIPHonoursForwardedOnlyFromTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected parse error")
	}

	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "direct client spoofing", remote: "203.0.113.5:4000", xff: "1.2.3.4", want: "203.0.113.5"},
		{name: "behind proxy", remote: "10.1.2.3:4000", xff: "198.51.100.7", want: "198.51.100.7"},
		{name: "client prepends fake hop", remote: "10.1.2.3:4000", xff: "1.2.3.4, 198.51.100.7", want: "198.51.100.7"},
		{name: "proxy chain", remote: "192.0.2.1:80", xff: "198.51.100.7, 10.9.9.9", want: "198.51.100.7"},
		{name: "garbage header", remote: "10.1.2.3:4000", xff: "nonsense", want: "10.1.2.3"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got string
			handler := RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}), trusted)
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set("X-Forwarded-For", tc.xff)
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitIgnoresRotatedForwardedFor(t *testing.T) {
	handler := RealIP(RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), 1, 0.01), nil)

	codes := make([]int, 0, 2)
	for _, hop := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/memberships", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("X-Forwarded-For", hop)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [204 429]", codes)
	}
}
