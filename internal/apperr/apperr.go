// Package apperr defines the error taxonomy shared by the service and
// handler layers. Every user-visible failure carries a stable code string
// that handlers map to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a kind of failure. Codes are part of the API contract
// and must not change once clients depend on them.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeWeakPassword       Code = "weak_password"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeChallengeMissing   Code = "challenge_missing"
	CodeInvalidSignature   Code = "invalid_signature"
	CodeAddressMismatch    Code = "address_mismatch"
	CodeInvalidToken       Code = "invalid_token"
	CodeExpiredToken       Code = "expired_token"
	CodeConflict           Code = "conflict"
	CodeStoreUnavailable   Code = "store_unavailable"
)

var statusByCode = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeWeakPassword:       http.StatusBadRequest,
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeChallengeMissing:   http.StatusUnauthorized,
	CodeInvalidSignature:   http.StatusUnauthorized,
	CodeAddressMismatch:    http.StatusUnauthorized,
	CodeInvalidToken:       http.StatusUnauthorized,
	CodeExpiredToken:       http.StatusUnauthorized,
	CodeConflict:           http.StatusConflict,
	CodeStoreUnavailable:   http.StatusServiceUnavailable,
}

// Error is a taxonomic error with a stable code and a user-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a taxonomic error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a taxonomic error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// From extracts the taxonomic error from err's chain, if any.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Status returns the HTTP status for the code. Unknown codes map to 500.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}
