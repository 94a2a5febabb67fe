package account

import (
	"errors"
	"fmt"
)

// Errors surfaced by Service. Handlers map each to a stable code and message.
var (
	ErrConflict              = errors.New("account already exists")
	ErrNotFound              = errors.New("account not found")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrNotVerified           = errors.New("account not verified")
	ErrInvalidCode           = errors.New("invalid or expired otp")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyVerified       = errors.New("account already verified")
	ErrInvalidPIN            = errors.New("invalid pin")
	ErrValidation            = errors.New("validation failed")
	ErrServer                = errors.New("server error")
)

// Errors returned by Repository implementations.
var (
	ErrAccountNotFound    = errors.New("account record not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAccountNumberTaken = errors.New("account number already allocated")
	ErrOTPMismatch        = errors.New("otp does not match or has expired")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// serverError keeps the underlying cause for logs while classifying the
// failure as ErrServer.
func serverError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrServer, err))
}
