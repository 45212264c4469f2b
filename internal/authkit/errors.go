package authkit

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed indicates malformed input that should have been rejected at the boundary.
	ErrValidationFailed = errors.New("auth.validation_failed")
	// ErrInvalidCredentials indicates a signin with an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("auth.invalid_credentials")
	// ErrDuplicateCredentials indicates a uniqueness conflict on email or external account.
	ErrDuplicateCredentials = errors.New("auth.duplicate_credentials")
	// ErrInvalidRequest indicates a missing authorization code or a failed provider call.
	ErrInvalidRequest = errors.New("auth.invalid_request")
	// ErrUpdateFailed indicates the linked account token refresh could not be persisted.
	ErrUpdateFailed = errors.New("auth.update_failed")
)

const internalErrorMessage = "Internal server error"

// Error is a classified auth failure. Message is safe to return to clients;
// Cause keeps the underlying error for logs and errors.Is/As.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (authError *Error) Error() string {
	if authError.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", authError.Kind, authError.Message, authError.Cause)
	}
	return fmt.Sprintf("%v: %s", authError.Kind, authError.Message)
}

func (authError *Error) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if authError.Kind != nil {
		unwrapped = append(unwrapped, authError.Kind)
	}
	if authError.Cause != nil {
		unwrapped = append(unwrapped, authError.Cause)
	}
	return unwrapped
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var authError *Error
	if errors.As(err, &authError) && authError.Message != "" {
		return authError.Message
	}
	return internalErrorMessage
}

// ErrorCode returns the dotted kind code for err, or "auth.internal" when unclassified.
func ErrorCode(err error) string {
	for _, kind := range []error{ErrValidationFailed, ErrInvalidCredentials, ErrDuplicateCredentials, ErrInvalidRequest, ErrUpdateFailed} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "auth.internal"
}
