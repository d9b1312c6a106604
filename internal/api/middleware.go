package api

import (
	"fmt"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/segment-viewer/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	// HeaderRequestID carries the generated request id back to the caller
	HeaderRequestID = "X-Request-Id"

	loggerKey = "log"
	reqIDKey  = "reqid"
)

// NewTrackMiddleware tags each request with an id, logs its outcome and
// counts its status code.
func NewTrackMiddleware(log *zap.SugaredLogger, skip func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 16)
			logger := log.With("request_id", "req_"+reqID)

			c.Set(loggerKey, logger)
			c.Set(reqIDKey, reqID)
			c.Response().Header().Set(HeaderRequestID, "req_"+reqID)

			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the status now so it is logged and counted
				c.Error(err)
			}
			duration := time.Since(start)

			status := c.Response().Status
			if skip == nil || !skip(c) {
				logger.Infow("end_of_request",
					"method", c.Request().Method,
					"path", c.Path(),
					"status_code", fmt.Sprintf("%d", status),
					"duration", duration.String())
			}
			metrics.ResponseCodes.WithLabelValues(c.Path(), fmt.Sprintf("%d", status)).Inc()
			return nil
		}
	}
}

// NewRecoverMiddleware turns handler panics into logged 500s.
func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("api_panic", "error", err.Error(), "stack", string(stack))
			return RespondWithError(c, NewInternalError("internal server error", nil))
		},
	})
}

// requestLogger returns the request-scoped logger, or a no-op one when the
// tracking middleware is not installed.
func requestLogger(c echo.Context) *zap.SugaredLogger {
	if l, ok := c.Get(loggerKey).(*zap.SugaredLogger); ok {
		return l
	}
	return zap.NewNop().Sugar()
}

// requestID returns the id assigned by the tracking middleware.
func requestID(c echo.Context) string {
	if id, ok := c.Get(reqIDKey).(string); ok {
		return id
	}
	return ""
}
