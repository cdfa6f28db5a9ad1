package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/puzzlr/internal/dispatch"
	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"message":"internal server error","error":true}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the error envelope every endpoint returns.
type errorBody struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

// writeError sends the error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg, Error: true})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var cerr *dispatch.ContractError
	switch {
	case errors.As(err, &cerr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidParams),
		errors.Is(err, domain.ErrInvalidCursor),
		errors.Is(err, domain.ErrStaleCursor),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidGame),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs server-side failures and writes the envelope.
// Contract failures surface the provider message; everything else is
// prefixed with what was being attempted.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, what string, err error) {
	status := statusFor(err)
	var cerr *dispatch.ContractError
	msg := fmt.Sprintf("%s: %s", what, err.Error())
	if errors.As(err, &cerr) {
		msg = cerr.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), what,
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, msg)
}

// pathAddress validates the {address} path parameter and returns it
// lower-cased.
func pathAddress(r *http.Request) (string, error) {
	addr := strings.TrimSpace(r.PathValue("address"))
	if addr == "" {
		return "", fmt.Errorf("eth_address must be provided: %w", domain.ErrInvalidParams)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid eth_address %q: %w", addr, domain.ErrInvalidParams)
	}
	return strings.ToLower(addr), nil
}

// decodeBody decodes a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body: %w", domain.ErrInvalidParams)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %v: %w", err, domain.ErrInvalidParams)
	}
	return nil
}

// logHandler attaches the handler name to logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("component", "handler"), slog.String("handler", handler))
}
