package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRequest(remoteAddr, forwardedFor string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	return req
}

func TestAllowWithinLimit(t *testing.T) {
	l := New(Tier{MaxRequests: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("Allow() request %d rejected, want accepted", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("Allow() 4th request accepted, want rejected")
	}
}

func TestAllowSlidesWindow(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Tier{MaxRequests: 2, Window: time.Minute})
	l.now = func() time.Time { return fixed }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("Allow() first two requests should be accepted")
	}
	if l.Allow("a") {
		t.Fatal("Allow() third request should be rejected within window")
	}

	l.now = func() time.Time { return fixed.Add(61 * time.Second) }
	if !l.Allow("a") {
		t.Fatal("Allow() after window slide should be accepted")
	}
}

func TestAllowIsPerIP(t *testing.T) {
	l := New(Tier{MaxRequests: 1, Window: time.Minute})
	if !l.Allow("a") {
		t.Fatal("Allow() for ip a should be accepted")
	}
	if !l.Allow("b") {
		t.Fatal("Allow() for ip b should be accepted independently of ip a")
	}
}

func TestGCPrunesStaleBuckets(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Tier{MaxRequests: 1, Window: time.Minute})
	l.now = func() time.Time { return fixed }
	l.Allow("stale")

	l.now = func() time.Time { return fixed.Add(3 * time.Minute) }
	if removed := l.GC(); removed != 1 {
		t.Fatalf("GC() removed = %d, want 1", removed)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := newRequest("10.0.0.1:1234", "203.0.113.1, 10.0.0.2")
	if got := ClientIP(req); got != "203.0.113.1" {
		t.Fatalf("ClientIP() = %s, want 203.0.113.1", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := newRequest("10.0.0.1:1234", "")
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("ClientIP() = %s, want 10.0.0.1", got)
	}
}
