// Package httpx writes the JSON bodies and RFC7807 problems served by the
// dashboard API.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Errors the domain packages wrap so RespondError can pick a status.
var (
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooLarge     = errors.New("request body too large")
)

// ProblemDetail is an RFC7807 problem body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type problemKind struct {
	err    error
	status int
	title  string
}

// Checked in order; the first match wins.
var problemKinds = []problemKind{
	{ErrTooLarge, http.StatusRequestEntityTooLarge, "Payload Too Large"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
}

// Known reports whether err wraps one of the package errors, meaning it is
// the caller's fault rather than the server's.
func Known(err error) bool {
	for _, kind := range problemKinds {
		if errors.Is(err, kind.err) {
			return true
		}
	}
	return false
}

// RespondError writes err as a problem. Unknown errors become a bare 500 so
// internal detail never leaks to the browser.
func RespondError(w http.ResponseWriter, err error) {
	for _, kind := range problemKinds {
		if errors.Is(err, kind.err) {
			Problem(w, kind.status, kind.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC7807 body with the problem+json media type.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{Title: title, Status: status, Detail: detail})
}
