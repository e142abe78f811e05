package netutil

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{name: "ipv4 with port", input: "192.0.2.4:8080", expected: "192.0.2.4", ok: true},
		{name: "ipv6 with port", input: "[2001:db8::1]:443", expected: "2001:db8::1", ok: true},
		{name: "ipv6 textual port", input: "[::1]:port", expected: "::1", ok: true},
		{name: "plain ipv4", input: "203.0.113.9", expected: "203.0.113.9", ok: true},
		{name: "plain ipv6", input: "2001:db8::5", expected: "2001:db8::5", ok: true},
		{name: "zone stripped", input: "fe80::1%eth0", expected: "fe80::1", ok: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeIP(tc.input)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestNormalizeIPInvalid(t *testing.T) {
	if got, ok := NormalizeIP("not-an-ip"); ok {
		t.Fatalf("expected failure, got success with %q", got)
	}
}

func TestClientIPTrustProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:4567"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(r, true); got != "203.0.113.7" {
		t.Fatalf("trusted proxy: expected forwarded IP, got %q", got)
	}
	if got := ClientIP(r, false); got != "10.0.0.1" {
		t.Fatalf("untrusted proxy: expected remote addr, got %q", got)
	}
}

func TestClientIPRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:4567"
	r.Header.Set("X-Real-IP", "198.51.100.3")

	if got := ClientIP(r, true); got != "198.51.100.3" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
}

func TestTruncateUserAgent(t *testing.T) {
	long := make([]rune, MaxUserAgentLength+10)
	for i := range long {
		long[i] = 'a'
	}
	truncated := TruncateUserAgent(string(long))
	if got := len([]rune(truncated)); got != MaxUserAgentLength {
		t.Fatalf("expected %d runes, got %d", MaxUserAgentLength, got)
	}
	if short := TruncateUserAgent("curl/8.0"); short != "curl/8.0" {
		t.Fatalf("short UA should pass through, got %q", short)
	}
}
