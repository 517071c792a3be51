package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentmail/internal/utils"
)

const secret = "session-secret"

func serve(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	var seen echo.Context
	e.GET("/api/v1/campaigns", func(c echo.Context) error {
		seen = c
		return c.NoContent(http.StatusOK)
	}, mw)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthMiddleware(secret)

	token, err := utils.SignSessionToken(secret, utils.SessionClaims{UserID: "user-1", DomainID: "dom-1"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, c := serve(auth.Middleware(), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, c)
	assert.Equal(t, "user-1", GetUserID(c))
	assert.Equal(t, "dom-1", GetDomainID(c))
}

func TestAuthMiddlewareRejects(t *testing.T) {
	auth := NewAuthMiddleware(secret)
	expired, err := utils.SignSessionToken(secret, utils.SessionClaims{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	forged, err := utils.SignSessionToken("other-secret", utils.SessionClaims{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing": "",
		"format":  "Token abc",
		"garbage": "Bearer abc.def.ghi",
		"forged":  "Bearer " + forged,
		"expired": "Bearer " + expired,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec, c := serve(auth.Middleware(), req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, c)
		})
	}
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (m *memCounter) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
	return m.counts[key], nil
}

func TestRateLimiter(t *testing.T) {
	counter := &memCounter{}
	mw := RateLimiter(RateLimitConfig{Counter: counter, Limit: 2, Window: time.Minute})

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
		req.Header.Set("X-Real-IP", ip)
		rec, _ := serve(mw, req)
		return rec
	}

	first := request("203.0.113.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, request("203.0.113.1").Code)
	limited := request("203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))

	// other clients have their own window
	assert.Equal(t, http.StatusOK, request("203.0.113.2").Code)

	// counter failures let traffic through
	counter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, request("203.0.113.1").Code)
}

func TestIPRateLimiter(t *testing.T) {
	mw := IPRateLimiter(0.001, 2)

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec, _ := serve(mw, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("198.51.100.7"))
	assert.Equal(t, http.StatusOK, request("198.51.100.7"))
	assert.Equal(t, http.StatusTooManyRequests, request("198.51.100.7"))
	assert.Equal(t, http.StatusOK, request("198.51.100.8"))
}
