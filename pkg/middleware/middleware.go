package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"devpulse/internal/constants"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
)

const requestIDKey = "request_id"

// Logger is the subset of the service logger the HTTP middleware writes to.
type Logger interface {
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
}

// RequestID echoes or assigns X-Request-ID. Unless the request already
// carries one, the id becomes the trace id of every Ctx log line written
// while serving it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(constants.HeaderRequestID, requestID)

		if logging.GetTraceID(c.Request.Context()) == "" {
			c.Request = c.Request.WithContext(logging.WithTraceID(c.Request.Context(), requestID))
		}
		c.Next()
	}
}

// AccessLog writes one line per request. Server errors log at error, client
// errors at warn. Requests to skipPaths are only logged when they fail.
func AccessLog(log Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if _, quiet := skip[c.Request.URL.Path]; quiet && status < http.StatusBadRequest {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		}
		if provider := c.Param("provider"); provider != "" {
			fields = append(fields, "provider", provider)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "error", errs)
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request failed", fields...)
		case status >= http.StatusBadRequest:
			log.WarnwCtx(ctx, "HTTP request rejected", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request served", fields...)
		}
	}
}

// Recovery turns a handler panic into a logged PANIC error and a generic 500
// body. Register it after AccessLog so the failed request is still logged.
func Recovery(log Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic("http "+c.Request.Method+" "+c.FullPath(), recovered)

		fields := []interface{}{"error", err, "path", c.Request.URL.Path}
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			fields = append(fields, "stack_trace", appErr.Details["stack_trace"])
		}
		log.ErrorwCtx(c.Request.Context(), "Panic recovered", fields...)

		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(apperrors.ErrInternal))
	})
}
