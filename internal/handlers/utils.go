package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/walletgate/apiserver/internal/apperr"
)

type contextKey string

const (
	contextSubjectKey     contextKey = "sub"
	contextSubjectKindKey contextKey = "kind"
)

// ErrorResponse is the JSON body for all error replies.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func userIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeAppError maps a taxonomic error to its status and stable code.
// Anything outside the taxonomy becomes a 500 with a correlation id that
// is also written to the server log.
func writeAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if e, ok := apperr.From(err); ok {
		writeError(w, e.Code.Status(), string(e.Code), e.Message)
		return
	}

	correlationID := uuid.New().String()
	logger.Error("unhandled error",
		slog.String("correlation_id", correlationID),
		slog.Any("error", err),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:         "internal_error",
		Message:       "an unexpected error occurred",
		CorrelationID: correlationID,
	})
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// statusWriter records the response status for after-the-fact decisions.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
