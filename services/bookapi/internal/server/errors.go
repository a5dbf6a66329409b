package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"bookshelf/internal/util"
	"bookshelf/services/bookapi/internal/app"
)

// Machine-readable error codes carried in errorResponse.Code.
const (
	codeUnauthenticated    = "unauthenticated"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeValidationFailed   = "validation_failed"
	codeInvalidCredentials = "invalid_credentials"
	codeBadRequest         = "bad_request"
	codeRateLimited        = "rate_limited"
	codeMethodNotAllowed   = "method_not_allowed"
	codeInternal           = "internal"
)

type errorResponse struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	RequestID string           `json:"requestId,omitempty"`
	Details   []app.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details []app.FieldError) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
		Details:   details,
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bookshelf"`)
	writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthenticated", nil)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed", nil)
}
