package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Problem is the error body returned by every endpoint. Code is a stable
// machine-readable string; Detail is for humans.
type Problem struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteProblem writes a {"detail","code"} error body
func WriteProblem(w http.ResponseWriter, status int, detail, code string) {
	_ = WriteJSON(w, status, Problem{Detail: detail, Code: code})
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes an error body with no code
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteProblem(w, status, message, "")
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteProblem(w, http.StatusBadRequest, message, "bad_request")
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteProblem(w, http.StatusForbidden, message, "permission_denied")
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteProblem(w, http.StatusNotFound, message, "not_found")
}

// WriteInternalError writes a 500. The error text is not exposed to clients.
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteProblem(w, http.StatusInternalServerError, "Internal server error.", "server_error")
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteProblem(w, http.StatusServiceUnavailable, message, "service_unavailable")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteAccepted writes a 202 with JSON data
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteJSONOrError writes JSON on success or error on failure
func WriteJSONOrError(w http.ResponseWriter, status int, data interface{}, errMsg string) {
	if err := WriteJSON(w, status, data); err != nil {
		WriteInternalError(w, fmt.Errorf("%s: %w", errMsg, err))
	}
}
