// Package handlers maps the HTTP surface onto the queue engine and
// its sibling services. Every response uses one envelope shape and
// every request body is decoded strictly.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// envelope is the uniform response body. Token is only present on the
// credential endpoints.
type envelope struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    any     `json:"data"`
	Token   *string `json:"token,omitempty"`
}

func respond(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: status < 400, Message: message, Data: data})
}

func respondToken(w http.ResponseWriter, status int, message string, data any, token string) {
	writeJSON(w, status, envelope{Success: status < 400, Message: message, Data: data, Token: &token})
}

// respondErr maps the error kind to its HTTP status and logs the
// internal ones; sanitized messages only, never stack traces.
func respondErr(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 && logger != nil {
		logger.Error("request failed", "error", err)
	}
	respond(w, status, apperr.Message(err), nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

const maxBodyBytes = 1 << 20

// decodeStrict reads the body rejecting unknown fields, wrong types,
// and trailing garbage, all as InvalidArgument.
func decodeStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.InvalidArgument("request body is required")
		case errors.As(err, &typeErr):
			return apperr.InvalidArgument("field %q has the wrong type", typeErr.Field)
		case strings.Contains(err.Error(), "unknown field"):
			return apperr.InvalidArgument("unknown %s", strings.TrimPrefix(err.Error(), "json: unknown "))
		default:
			return apperr.InvalidArgument("malformed JSON body")
		}
	}
	if dec.More() {
		return apperr.InvalidArgument("unexpected trailing data")
	}
	return nil
}

// timeParam parses an optional RFC3339 or unix-milliseconds query
// value; absent means the zero time (unbounded).
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	var millis int64
	if _, err := fmt.Sscanf(raw, "%d", &millis); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC(), nil
	}
	return time.Time{}, apperr.InvalidArgument("%s must be RFC3339 or unix milliseconds", name)
}
