package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/paygate/internal/logging"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifyAccess(token string) (string, error) {
	if uid, ok := s[token]; ok {
		return uid, nil
	}
	return "", errors.New("invalid")
}

func TestJWTAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/me", JWTAuth(stubVerifier{"good": "user-1"}), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})

	cases := map[string]int{
		"":            http.StatusUnauthorized,
		"Basic xyz":   http.StatusUnauthorized,
		"Bearer bad":  http.StatusUnauthorized,
		"Bearer good": http.StatusOK,
		"bearer good": http.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "header %q", header)
	}
}

func TestRequestIDPropagatesCorrelationID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(logging.CorrelationID(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestPaymentRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/pay", PaymentRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	hit := func(uid string) int {
		req := httptest.NewRequest(http.MethodPost, "/pay", nil)
		req.Header.Set("X-Test-User", uid)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, hit("user-1"))
	assert.Equal(t, http.StatusCreated, hit("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("user-1"))
	assert.Equal(t, http.StatusCreated, hit("user-2"))

	// A broken store does not block payments.
	mr.Close()
	assert.Equal(t, http.StatusCreated, hit("user-3"))
}

func TestPaymentRateLimitWindowWithoutTTLStillCloses(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	})
	app.Post("/pay", PaymentRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	// A counter left over from a request whose EXPIRE never landed.
	require.NoError(t, mr.Set("rl:payment:user-1", "5"))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/pay", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Greater(t, mr.TTL("rl:payment:user-1"), time.Duration(0))

	mr.FastForward(61 * time.Second)
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/pay", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestPaymentRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/pay", PaymentRateLimit(nil, 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/pay", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}
