// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values so transports can map them to a status without
// inspecting message strings. Stores return sentinel errors instead (see
// pkg/platform/sentinel) and services translate them here.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies a class of domain failure. Codes are stable and appear on
// the wire as the "error" field of HTTP error bodies.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// Marketplace codes.
	CodeInvalidPrice          Code = "invalid_price"
	CodeAlreadySold           Code = "already_sold"
	CodeNotSoldYet            Code = "not_sold_yet"
	CodeAlreadyDelivered      Code = "already_delivered"
	CodeInsufficientPayment   Code = "insufficient_payment"
	CodeDuplicateCertificate  Code = "duplicate_certificate"
	CodeUnknownCertificate    Code = "unknown_certificate"
	CodeDuplicateRegistration Code = "duplicate_registration"

	// CodeInsufficientPool means the treasury could not cover a redemption
	// that the ledger says is owed. It is never a caller mistake.
	CodeInsufficientPool Code = "insufficient_pool"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// IsFatal reports whether the error signals a broken internal invariant that
// needs operator attention rather than a retry.
func IsFatal(err error) bool {
	return HasCode(err, CodeInsufficientPool) || HasCode(err, CodeInvariantViolation)
}

// ToHTTPStatus maps a domain code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput, CodeInvalidPrice:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInsufficientPayment:
		return http.StatusPaymentRequired
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeUnknownCertificate:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadySold, CodeNotSoldYet, CodeAlreadyDelivered,
		CodeDuplicateCertificate, CodeDuplicateRegistration:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
