package store

import "errors"

var (
	// ErrDuplicateAccount is returned when adding an email that already exists.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrNotFound is returned when no account has the requested id.
	ErrNotFound = errors.New("account not found")
	// ErrAccountUnavailable is returned when credentials are requested for a blocked or invalid account.
	ErrAccountUnavailable = errors.New("account unavailable")
	// ErrInvalidCredentials is returned when the validator rejects an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidationTimeout is returned when the validator does not answer within the configured timeout.
	ErrValidationTimeout = errors.New("credential validation timed out")
	// ErrValidatorUnavailable is returned when validation is requested without a configured validator.
	ErrValidatorUnavailable = errors.New("credential validator not configured")
	// ErrInvalidInput is returned for empty or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrWrongKey is returned at open time when the key cannot read the document's key check.
	ErrWrongKey = errors.New("encryption key does not match document")
)
