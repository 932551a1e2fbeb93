package core

import "errors"

// Code is a machine-readable error classification.
type Code string

const (
	CodeSessionNotFound         Code = "SESSION_NOT_FOUND"
	CodeSessionExpired          Code = "SESSION_EXPIRED"
	CodeSessionAlreadyCompleted Code = "SESSION_ALREADY_COMPLETED"
	CodeInvalidSignature        Code = "INVALID_SIGNATURE"
	CodeSubscriptionNotActive   Code = "SUBSCRIPTION_NOT_ACTIVE"
	CodeTimestampInvalid        Code = "TIMESTAMP_INVALID"
	CodeTimeout                 Code = "TIMEOUT"
	CodeSessionFailed           Code = "SESSION_FAILED"
	CodeSessionRejected         Code = "SESSION_REJECTED"
	CodeInvalidPayload          Code = "INVALID_PAYLOAD"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeSessionExists           Code = "SESSION_EXISTS"
	CodePollSecretInvalid       Code = "POLL_SECRET_INVALID"
	CodeStoreFailure            Code = "STORE_FAILURE"
)

// Error is the domain error returned by the protocol, the client and the verifier.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a domain error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a domain error with an underlying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// AsError extracts the domain error from err. Errors that are not domain
// errors are reported as store failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return WrapError(CodeStoreFailure, "Store operation failed", err)
}

var (
	ErrSessionNotFound         = NewError(CodeSessionNotFound, "Session not found")
	ErrSessionExpired          = NewError(CodeSessionExpired, "Session expired")
	ErrSessionAlreadyCompleted = NewError(CodeSessionAlreadyCompleted, "Session already completed")
	ErrInvalidSignature        = NewError(CodeInvalidSignature, "Invalid signature")
	ErrSubscriptionNotActive   = NewError(CodeSubscriptionNotActive, "Subscription not active")
	ErrTimestampInvalid        = NewError(CodeTimestampInvalid, "Invalid timestamp")
	ErrTimeout                 = NewError(CodeTimeout, "Timeout waiting for completion")
	ErrSessionRejected         = NewError(CodeSessionRejected, "Session rejected")
	ErrInvalidPayload          = NewError(CodeInvalidPayload, "Invalid payload")
	ErrInvalidTransition       = NewError(CodeInvalidTransition, "Invalid status transition")
	ErrSessionExists           = NewError(CodeSessionExists, "Session already exists")
	ErrPollSecretInvalid       = NewError(CodePollSecretInvalid, "Invalid poll secret")
)

// ErrTokenAccountNotFound is reported by balance lookups when the wallet has
// no token account for the mint.
var ErrTokenAccountNotFound = errors.New("token account not found")
