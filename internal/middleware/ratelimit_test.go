package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWrapDisabledPassesThrough(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want passthrough", rec.Code)
	}
}

func TestTokenBucketExhaustion(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_QPS", "2")
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make(map[int]int)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[rec.Code]++
	}
	if codes[http.StatusOK] != 2 || codes[http.StatusTooManyRequests] != 2 {
		t.Fatalf("codes = %v, want 2 ok and 2 throttled", codes)
	}
}

func TestTokenBucketRefillsNextSecond(t *testing.T) {
	tb := &TokenBucket{capacity: 1, tokens: 1, lastSec: time.Now().Unix() - 1}
	if !tb.allow() {
		t.Fatal("fresh second should refill the bucket")
	}
	if tb.allow() {
		t.Fatal("bucket of one should be exhausted")
	}
}
