package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

var enabled atomic.Bool

// Init configures error reporting. An empty dsn leaves reporting disabled.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		log.Info("[Monitoring] SENTRY_DSN not set, error reporting disabled")
		return nil
	}

	traceRate := 1.0
	if environment == "prod" || environment == "production" {
		traceRate = 0.2
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		EnableTracing:    true,
		TracesSampleRate: traceRate,
	}); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	enabled.Store(true)
	log.Infof("[Monitoring] Sentry enabled (env=%s)", environment)
	return nil
}

func Enabled() bool {
	return enabled.Load()
}

// CaptureError reports err with tags. It is a no-op when reporting is off.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events before shutdown.
func Flush(timeout time.Duration) {
	if Enabled() {
		sentry.Flush(timeout)
	}
}

// Middleware reports handler errors that end in a 5xx response and panics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !Enabled() {
			return c.Next()
		}

		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetTags(map[string]string{
			"method": c.Method(),
			"route":  c.Path(),
		})
		defer func() {
			if r := recover(); r != nil {
				hub.RecoverWithContext(c.UserContext(), r)
				hub.Flush(2 * time.Second)
				panic(r)
			}
		}()

		err := c.Next()
		if err != nil {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				hub.CaptureException(err)
			}
		} else if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			if reported, ok := c.Locals(errorLocal).(error); ok {
				hub.CaptureException(reported)
			}
		}
		return err
	}
}

const errorLocal = "monitoring_error"

// Remember attaches err to the request so Middleware reports it when the
// handler answers with a 5xx itself.
func Remember(c *fiber.Ctx, err error) {
	c.Locals(errorLocal, err)
}
