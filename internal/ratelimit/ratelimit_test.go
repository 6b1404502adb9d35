package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, 2, time.Second)
	fixed := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return fixed }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "caller")
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got %v %v", i, ok, err)
		}
	}
	ok, err := limiter.Allow(ctx, "caller")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected third request in window to be rejected")
	}

	ok, _ = limiter.Allow(ctx, "other")
	if !ok {
		t.Fatal("expected separate key to have its own budget")
	}

	limiter.now = func() time.Time { return fixed.Add(time.Second) }
	ok, _ = limiter.Allow(ctx, "caller")
	if !ok {
		t.Fatal("expected next window to reset the budget")
	}

	key := "moderation:ratelimit:caller:1700000000"
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Second {
		t.Fatalf("expected window key to expire within a second, got %v", ttl)
	}
}

func TestLocalLimiterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := NewLocalLimiter(ctx, 0.001, 1)

	if ok, _ := limiter.Allow(ctx, "a"); !ok {
		t.Fatal("expected first request to pass")
	}
	if ok, _ := limiter.Allow(ctx, "a"); ok {
		t.Fatal("expected second request to be throttled")
	}
	if ok, _ := limiter.Allow(ctx, "b"); !ok {
		t.Fatal("expected other key to pass")
	}

	limiter.evictIdle(time.Now().Add(time.Hour))
	if len(limiter.visitors) != 0 {
		t.Fatalf("expected idle visitors to be evicted, got %d", len(limiter.visitors))
	}
}

func TestLocalLimiterZeroBurstAllowsFirstRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := NewLocalLimiter(ctx, 5, 0)

	if ok, _ := limiter.Allow(ctx, "a"); !ok {
		t.Fatal("expected first request to pass")
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{allowed: true}, http.StatusOK},
		{"rejected", &stubLimiter{allowed: false}, http.StatusTooManyRequests},
		{"fails open", &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(Middleware(tc.limiter, zap.NewNop()))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
			if len(tc.limiter.keys) != 1 || tc.limiter.keys[0] != "10.0.0.1" {
				t.Fatalf("expected client IP key, got %v", tc.limiter.keys)
			}
		})
	}
}
