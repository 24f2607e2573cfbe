package security

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	// IdempotencyHeader carries the client's retry key
	IdempotencyHeader = "X-Idempotency-Key"
	// ClientHeader identifies a client behind a shared address
	ClientHeader = "X-Client-ID"
)

// ClientID identifies the caller for rate limiting
func ClientID(c *fiber.Ctx) string {
	if id := c.Get(ClientHeader); id != "" {
		return utils.CopyString(id)
	}
	return utils.CopyString(c.IP())
}

// LimitRuns rejects run creation once a client exceeds its window
func LimitRuns(l *RunLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		client := ClientID(c)

		ok, retryAfter := l.Allow(client)
		c.Set("X-RateLimit-Limit", strconv.Itoa(l.Limit()))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(client)))

		if !ok {
			c.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			return fiber.NewError(fiber.StatusTooManyRequests, "Run rate limit exceeded")
		}
		return c.Next()
	}
}

// ReplayRuns returns the stored response when a run creation request repeats
// an idempotency key, and stores accepted responses for later retries.
// Requests racing on the same key are serialised so only one reaches the
// handler.
func ReplayRuns(cache *ReplayCache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := utils.CopyString(c.Get(IdempotencyHeader))
		if key == "" || c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if r, ok := cache.Reserve(key); ok {
			c.Set("X-Idempotency-Replayed", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(r.Status).Send(r.Body)
		}

		remembered := false
		defer func() {
			if !remembered {
				cache.Release(key)
			}
		}()

		if err := c.Next(); err != nil {
			return err
		}

		if status := c.Response().StatusCode(); status == fiber.StatusAccepted {
			cache.Remember(key, status, c.Response().Body())
			remembered = true
		}
		return nil
	}
}
