package mandate

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for common failure scenarios.
var (
	// Authorization errors
	ErrUnauthorized           = errors.New("mandate: unauthorized")
	ErrInsufficientAllowance  = errors.New("mandate: insufficient allowance")
	ErrInvalidAccount         = errors.New("mandate: invalid account")
	ErrArithmeticOverflow     = errors.New("mandate: arithmetic overflow")
	ErrDuplicateAuthorization = errors.New("mandate: authorization already exists")
	ErrNotFound               = errors.New("mandate: authorization not found")

	// Instruction errors
	ErrInvalidInput = errors.New("mandate: invalid input")
	ErrReplayed     = errors.New("mandate: instruction replayed")
	ErrExpired      = errors.New("mandate: instruction expired")

	// Execution errors
	ErrConflict       = errors.New("mandate: concurrent update conflict")
	ErrTransferFailed = errors.New("mandate: transfer failed")

	// ErrUncommitted means funds moved but the spent amount was not
	// recorded. The authorization under-reports what was drawn until it is
	// reconciled; the charge must not be resubmitted.
	ErrUncommitted = errors.New("mandate: transferred but not recorded")

	// Store errors
	ErrStoreClosed     = errors.New("mandate: store is closed")
	ErrMigrationFailed = errors.New("mandate: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("mandate: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// validationError converts the first validator field error into a
// ValidationError. Other errors are wrapped with ErrInvalidInput.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return ValidationError{Field: fe.Field(), Message: msg}
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDenied returns true if the error is a policy denial. Denials are final:
// resubmitting the same instruction cannot succeed.
func IsDenied(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientAllowance) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrArithmeticOverflow) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrReplayed) ||
		errors.Is(err, ErrExpired)
}

// IsRetryable returns true if the error is temporary and a freshly signed
// instruction may succeed. An uncommitted charge is never retryable, even
// when its cause is a conflict.
func IsRetryable(err error) bool {
	if IsUncommitted(err) {
		return false
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransferFailed)
}

// IsUncommitted returns true if funds moved without the spent amount being
// recorded.
func IsUncommitted(err error) bool {
	return errors.Is(err, ErrUncommitted)
}
