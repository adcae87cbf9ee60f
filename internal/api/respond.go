package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"ChannelPipeline/internal/query"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to a status code. Internal failures are logged and
// answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, query.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, query.ErrInvalidArgument):
		status = http.StatusBadRequest
		message = err.Error()
	}

	requestID := middleware.GetReqID(r.Context())
	if logger != nil && status == http.StatusInternalServerError {
		logger.Error("request failed",
			"request_id", requestID,
			"path", r.URL.Path,
			"error", err,
		)
	}

	WriteJSON(w, status, ErrorResponse{Error: message, Status: status, RequestID: requestID})
}
