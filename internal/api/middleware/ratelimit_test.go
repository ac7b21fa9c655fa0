// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doFrom(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_EnforcesLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestLimit: 3, WindowSize: time.Minute})(okHandler)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doFrom(h, "192.168.1.1:12345", nil).Code, "request %d", i+1)
	}

	w := doFrom(h, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"rate_limit_exceeded"}`, w.Body.String())
}

func TestRateLimit_DifferentIPsIndependent(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestLimit: 2, WindowSize: time.Minute})(okHandler)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, doFrom(h, "192.168.1.1:12345", nil).Code)
	}
	assert.Equal(t, http.StatusOK, doFrom(h, "192.168.1.2:12345", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "192.168.1.1:12345", nil).Code)
}

func TestRateLimit_KeyByUser(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		RequestLimit: 1,
		WindowSize:   time.Minute,
		KeyFunc:      KeyByUser("X-User-ID"),
	})(okHandler)

	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", map[string]string{"X-User-ID": "alice"}).Code)
	// same IP, different principal
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", map[string]string{"X-User-ID": "bob"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.2:1", map[string]string{"X-User-ID": "alice"}).Code)
}

func TestRateLimit_WhitelistCIDR(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		RequestLimit: 1,
		WindowSize:   time.Minute,
		Whitelist:    []string{"192.168.0.0/16", "127.0.0.1"},
	})(okHandler)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doFrom(h, "192.168.1.10:12345", nil).Code)
		assert.Equal(t, http.StatusOK, doFrom(h, "127.0.0.1:80", nil).Code)
	}

	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:12345", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:12345", nil).Code)
}
