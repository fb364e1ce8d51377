package httpx

import "net/http"

// Result is the success form of the envelope returned by every API operation.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// WriteResult renders a successful envelope with the given status.
func WriteResult[T any](w http.ResponseWriter, status int, message string, data T) {
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, Result[T]{Success: true, Message: message, Data: data})
}
