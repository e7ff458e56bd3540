// Package httpx holds the JSON helpers shared by the API handlers.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

// ErrorBody is the wire shape of every failed response: a request id for
// correlation plus an UPPER_SNAKE code the dashboard switches on.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body. Unknown fields are tolerated: event
// records carry optional extension fields that older clients omit and newer
// ones add.
func ReadJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorBody{
		RequestID: NewRequestID(),
		Error:     ErrorDetail{Code: code, Message: message, Details: details},
	})
}
