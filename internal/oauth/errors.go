package oauth

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure in the authorization proxy.
type ErrorCode string

const (
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidClient   ErrorCode = "INVALID_CLIENT"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeInvalidGrant    ErrorCode = "INVALID_GRANT"
	ErrCodeExchangeFailed  ErrorCode = "EXCHANGE_FAILED"
	ErrCodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
	ErrCodeRefreshFailed   ErrorCode = "REFRESH_FAILED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// ErrNotFound is returned by a TTLStore when a key is absent, expired or
// already consumed.
var ErrNotFound = errors.New("entry not found")

// Error is a classified authorization proxy failure. Description is safe
// to show to the end user.
type Error struct {
	Code        ErrorCode
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, description string, err error) *Error {
	return &Error{Code: code, Description: description, Err: err}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}
