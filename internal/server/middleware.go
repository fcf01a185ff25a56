package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const loggerKey = contextKey("logger")

// requestLogger injects a request-scoped logger carrying the request ID from
// the RequestID middleware, and logs each request once it is served.
// It must be placed after the RequestID middleware in the chain.
func requestLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			logger := base.With("request_id", reqID)

			ctx := context.WithValue(c.Request().Context(), loggerKey, logger)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Debug("Request served",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// LoggerFrom returns the request-scoped logger, or the default one
func LoggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
