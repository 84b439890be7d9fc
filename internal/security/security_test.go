package security

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, CorrelationIDFromContext(r.Context()))
})

func TestCorrelationID(t *testing.T) {
	h := CorrelationID(okHandler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationIDHeader))
	assert.Equal(t, "abc-123", rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "has space")
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "has space", rec.Header().Get(CorrelationIDHeader))
	assert.Len(t, rec.Header().Get(CorrelationIDHeader), 36)
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCorrelationID(req.Context(), "cid-1"))

	WriteJSONErrorMessage(rec, req, http.StatusConflict, "insufficient_funds", "account a has 1")

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, ErrorResponse{Error: "insufficient_funds", Message: "account a has 1", CorrelationID: "cid-1"}, body)
}

func TestJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator(`{
		"type": "object",
		"required": ["amount"],
		"properties": {"amount": {"type": "number", "exclusiveMinimum": 0}}
	}`)
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"amount": 10}`, http.StatusOK},
		{"negative", `{"amount": -1}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			v.Middleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	v, err := NewJSONSchemaValidator(`{"type": "object"}`)
	require.NoError(t, err)
	h := BodySizeLimit(8)(v.Middleware(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a": "0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPAllowlist(t *testing.T) {
	allow, err := ParseCIDRAllowlist("10.0.0.0/8, 192.168.1.7")
	require.NoError(t, err)
	require.Len(t, allow, 2)

	h := IPAllowlist(allow)(okHandler)
	for addr, want := range map[string]int{
		"10.1.2.3:5000":    http.StatusOK,
		"192.168.1.7:5000": http.StatusOK,
		"192.168.1.8:5000": http.StatusForbidden,
		"garbage":          http.StatusForbidden,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, addr)
	}

	_, err = ParseCIDRAllowlist("not-an-ip")
	assert.Error(t, err)
}

func TestRedisTokenBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Unix(1700000000, 0)
	bucket := &RedisTokenBucket{Redis: rdb, Prefix: "rl", Capacity: 2, RefillRate: 1, Now: func() time.Time { return now }}
	ctx := context.Background()

	ok, _, err := bucket.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = bucket.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = bucket.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = bucket.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, ok, "keys have separate buckets")

	now = now.Add(time.Second)
	ok, _, err = bucket.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok, "refilled")
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bucket := &RedisTokenBucket{Redis: rdb, Capacity: 1, RefillRate: 0.001}
	h := RateLimitMiddleware(bucket, func(r *http.Request) string { return "ip:test" })(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	mr.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
