package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modforge/authcore/internal/logger"
)

const maxBodyBytes = 1 << 20

// response is the JSON envelope for every endpoint.
type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// writeJSON writes v with status. Encoding errors are dropped; the
// headers are already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Data: data})
}

func writeMessage(w http.ResponseWriter, message string) {
	writeData(w, http.StatusOK, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, response{Error: &errorResponse{
		Code:      code,
		Message:   message,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}})
}

// bind decodes the request body into dst and validates it. On failure the
// error response is written and false returned.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeAppError(w, r, err)
		return false
	}
	return true
}

// bindOptional is bind for endpoints whose body may be empty.
func bindOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return bind(w, r, dst)
}
