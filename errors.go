package credpool

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/credpool/crypt"
	"github.com/MrEthical07/credpool/rotation"
	"github.com/MrEthical07/credpool/store"
)

var (
	// ErrDuplicateAccount is returned when adding an email that already exists.
	ErrDuplicateAccount = store.ErrDuplicateAccount
	// ErrNotFound is returned when no account has the requested id.
	ErrNotFound = store.ErrNotFound
	// ErrAccountUnavailable is returned when credentials are requested for a blocked or invalid account.
	ErrAccountUnavailable = store.ErrAccountUnavailable
	// ErrInvalidCredentials is returned when the upstream rejects an email/password pair.
	ErrInvalidCredentials = store.ErrInvalidCredentials
	// ErrValidationTimeout is returned when the sign-in endpoint does not answer in time.
	ErrValidationTimeout = store.ErrValidationTimeout
	// ErrValidatorUnavailable is returned when validation or sign-in is needed but no endpoint is configured.
	ErrValidatorUnavailable = store.ErrValidatorUnavailable
	// ErrInvalidInput is returned for empty or out-of-range arguments.
	ErrInvalidInput = store.ErrInvalidInput
	// ErrWrongKey is returned when the configured key cannot open the document.
	ErrWrongKey = store.ErrWrongKey
	// ErrDecryption is returned when a sealed record fails authentication.
	ErrDecryption = crypt.ErrDecryption

	// ErrNoAvailableAccounts is returned by Do when no account is eligible for the first attempt.
	ErrNoAvailableAccounts = errors.New("no available accounts")
	// ErrAllAccountsRateLimited matches *AllAccountsRateLimitedError.
	ErrAllAccountsRateLimited = errors.New("all accounts rate limited")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
)

// AllAccountsRateLimitedError ends a Do call whose retry budget ran out.
// It unwraps to the last upstream error.
type AllAccountsRateLimitedError struct {
	Attempts int
	Last     error
}

func (e *AllAccountsRateLimitedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all accounts rate limited after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("all accounts rate limited after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AllAccountsRateLimitedError) Is(target error) bool {
	return target == ErrAllAccountsRateLimited
}

func (e *AllAccountsRateLimitedError) Unwrap() error {
	return e.Last
}

// RequestError is how callers of Do report an upstream failure so the pool
// can classify it.
type RequestError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil && e.Code != "":
		return fmt.Sprintf("upstream %d (%s): %v", e.StatusCode, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream %d: %v", e.StatusCode, e.Err)
	case e.Code != "":
		return fmt.Sprintf("upstream %d (%s)", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("upstream %d", e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// RateLimited reports a rate or quota rejection: 429, 403, or code RATE_LIMIT.
func (e *RequestError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusForbidden ||
		e.Code == "RATE_LIMIT"
}

// IsRateLimitError reports whether err is a rate or quota rejection.
func IsRateLimitError(err error) bool {
	return err != nil && rotation.IsRateLimited(err)
}

// IsAuthError reports whether err means the account's credentials are no
// longer accepted.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) && re.StatusCode == http.StatusUnauthorized {
		return true
	}
	return errors.Is(err, ErrInvalidCredentials)
}
