package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"voting-ledger/models"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotEligible), errors.Is(err, models.ErrElectionNotActive):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports rejections as they are. Infrastructure failures get a
// generic retry message and are logged with the request id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	requestID := GetRequestID(r.Context())

	if status != http.StatusInternalServerError {
		writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID})
		return
	}

	s.Log().Error().Err(err).
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")

	writeJSON(w, status, errorResponse{Error: "operation failed, please retry", RequestID: requestID})
}
