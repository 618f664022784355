package middleware

import (
	"fmt"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	RequestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

var baseLogger = logger.Nop()

// RequestLogger tags every request with an id, stores a request-scoped
// logger on the context and logs the outcome.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	baseLogger = log
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		reqLog := log.With("request_id", id)
		c.Set(loggerKey, reqLog)

		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if w, ok := c.Get(WalletKey); ok {
			kv = append(kv, "wallet", w)
		}
		switch {
		case c.Writer.Status() >= 500:
			reqLog.Error("Request failed", kv...)
		default:
			reqLog.Debug("Request handled", kv...)
		}
	}
}

// Logger returns the request-scoped logger.
func Logger(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return baseLogger
}

// ErrorBody is the JSON shape of every client-visible error.
type ErrorBody struct {
	Error *apperr.Error `json:"error"`
}

// RespondError writes err as JSON. Known kinds map to their status code;
// anything else is logged with its stack and reported only as an error code.
func RespondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindInternal {
		c.JSON(apperr.HTTPStatus(appErr.Kind), ErrorBody{Error: appErr})
		return
	}

	code := time.Now().UnixNano()
	Logger(c).Error("Internal error",
		"errorcode", code,
		"path", c.Request.URL.Path,
		"error", err.Error(),
		"stack", stackOf(err))
	c.JSON(apperr.HTTPStatus(apperr.KindInternal), apperr.ServerErrorReply{ErrorCode: code})
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}
