package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/mockmailer/pkg/logger"
	"github.com/dmitrymomot/mockmailer/pkg/requestid"
)

// ErrorInfo is the classified form of an error returned by a Response.
type ErrorInfo struct {
	StatusCode int
	Message    string
	LogLevel   slog.Level
}

func classifyError(err error) ErrorInfo {
	info := ErrorInfo{
		StatusCode: http.StatusInternalServerError,
		Message:    "An error occurred processing your request",
		LogLevel:   slog.LevelError,
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		info.StatusCode = httpErr.Code
		info.Message = httpErr.Key
	}
	if info.StatusCode >= http.StatusBadRequest && info.StatusCode < http.StatusInternalServerError {
		info.LogLevel = slog.LevelWarn
	}
	return info
}

// NewErrorHandler returns an ErrorHandler that logs the error with request
// metadata and writes a plain-text response. Internal error details are never
// written to the client.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx Context, err error) {
		r := ctx.Request()
		info := classifyError(err)

		log.LogAttrs(r.Context(), info.LogLevel, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		http.Error(ctx.ResponseWriter(), info.Message, info.StatusCode)
	}
}
