package model

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrIntegrity         = errors.New("integrity violation")
	ErrStorage           = errors.New("storage unavailable")
	ErrNotFound          = errors.New("not found")
)

// IsRetryable reports whether the whole settlement unit may be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}
