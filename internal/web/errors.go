package web

// errors.go renders every failure of the import API the same way:
//  1. The handler calls respondError(w, r, err)
//  2. The status code is derived from the error's type or sentinel
//  3. core.MapError supplies the user-facing message and code
//  4. The technical error is logged with the request id for correlation

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/loader"
	"github.com/JonMunkholm/tidyimport/internal/logging"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"` // spec errors only
}

var (
	errNoFile      = errors.New("no file provided")
	errNoSpec      = errors.New("invalid spec: no spec provided")
	errSpecMissing = errors.New("spec not found")
	errNoDatabase  = errors.New("no database configured")
)

var rateLimitMessage = core.UserMessage{
	Message: "Too many requests",
	Action:  "Slow down and retry after the Retry-After interval",
	Code:    "RATE001",
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	var parseErr *csv.ParseError

	switch {
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, loader.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errSpecMissing):
		return http.StatusNotFound
	case spec.IsSpecError(err), errors.Is(err, errNoSpec):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoFile),
		errors.Is(err, loader.ErrUnsupportedFormat),
		errors.Is(err, loader.ErrHeaderNotFound),
		errors.Is(err, loader.ErrSheetNotFound),
		errors.Is(err, export.ErrUnknownFormat),
		errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, errNoDatabase):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its user-facing JSON form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var specErr *spec.Error
	if errors.As(err, &specErr) {
		resp.Path = specErr.Path
	}
	writeJSON(w, status, resp)
}

// respondErrorJSON writes msg without logging.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// clientIP strips the port from r.RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
