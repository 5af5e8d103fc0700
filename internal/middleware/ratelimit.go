package middleware

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// WebSocket connection attempts (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration

	// Login attempts per account (or IP when no email was sent)
	LoginPerMinute int
}

// NewRateLimitConfig builds the limiter settings. Development mode relaxes
// the global limit.
func NewRateLimitConfig(globalPerMinute, loginPerMinute int, development bool) *RateLimitConfig {
	cfg := &RateLimitConfig{
		GlobalAPIMax:        globalPerMinute,
		GlobalAPIExpiration: time.Minute,
		WebSocketMax:        20,
		WebSocketExpiration: time.Minute,
		LoginPerMinute:      loginPerMinute,
	}
	if cfg.GlobalAPIMax <= 0 {
		cfg.GlobalAPIMax = 300
	}
	if cfg.LoginPerMinute <= 0 {
		cfg.LoginPerMinute = 5
	}
	if development {
		cfg.GlobalAPIMax = 1000
		cfg.WebSocketMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}
	return cfg
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter for pipeline feed connection attempts
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebSocketMax,
		Expiration: config.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(config.WebSocketExpiration.Seconds()),
			})
		},
	})
}

// LoginLimiter throttles login attempts with a token bucket per account.
// Idle buckets expire so the key space stays bounded.
type LoginLimiter struct {
	perMinute int
	buckets   *gocache.Cache
}

// NewLoginLimiter allows perMinute attempts per key, refilled evenly
func NewLoginLimiter(perMinute int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	return &LoginLimiter{
		perMinute: perMinute,
		buckets:   gocache.New(10*time.Minute, 5*time.Minute),
	}
}

// Allow consumes one attempt for key
func (l *LoginLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *LoginLimiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	// a concurrent first attempt may have stored its own bucket
	if err := l.buckets.Add(key, lim, gocache.DefaultExpiration); err != nil {
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Handler rejects login requests over the limit with 429
func (l *LoginLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := loginKey(c)
		if !l.Allow(key) {
			log.Printf("🚫 [RATE-LIMIT] Login limit reached for %s", key)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many login attempts. Please try again later.",
				"retry_after": 60 / l.perMinute,
			})
		}
		return c.Next()
	}
}

func loginKey(c *fiber.Ctx) string {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(c.Body(), &body); err == nil {
		if email := strings.ToLower(strings.TrimSpace(body.Email)); email != "" {
			return "login:" + email
		}
	}
	return "login-ip:" + c.IP()
}
