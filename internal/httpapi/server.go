// Package httpapi exposes the interview service over HTTP.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

const (
	appName              = "AI Interview API"
	defaultBodyLimit     = 64 << 10
	defaultReadTimeout   = 30 * time.Second
	defaultWriteTimeout  = 2 * time.Minute
	defaultStreamTimeout = 2 * time.Minute
)

// Config configures the HTTP server.
type Config struct {
	Addr          string        `mapstructure:"addr"`
	BodyLimit     int           `mapstructure:"body-limit"`
	ReadTimeout   time.Duration `mapstructure:"read-timeout"`
	WriteTimeout  time.Duration `mapstructure:"write-timeout"`
	StreamTimeout time.Duration `mapstructure:"stream-timeout"`
	// ProxyHeader names the header that carries the client IP behind a proxy.
	ProxyHeader   string        `mapstructure:"proxy-header"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = defaultBodyLimit
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = defaultStreamTimeout
	}
	return c
}

// NewApp builds the fiber application with every route registered under
// /api/v1.
func NewApp(svc Interviews, cfg Config, log *zap.Logger) *fiber.App {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ProxyHeader:           cfg.ProxyHeader,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger(log))

	api := app.Group("/api/v1")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().UTC(),
		})
	})

	NewHandler(svc, cfg.StreamTimeout, log).RegisterRoutes(api)
	return app
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		)
		return err
	}
}
