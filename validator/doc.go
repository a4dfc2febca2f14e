// Package validator is the HTTP client for the upstream sign-in endpoint.
//
// A sign-in posts {"email", "password"} as JSON and expects a response body
// carrying a non-empty "token". [Client.Validate] adapts this to the
// store.Validator contract; [Client.SignIn] also returns the token lifetime
// for the token cache.
//
// # Error classification
//
//   - a deadline or transport timeout maps to store.ErrValidationTimeout
//   - 400 and 401 responses, or a missing token, wrap store.ErrInvalidCredentials
//   - every other non-2xx response is returned as a *StatusError
//
// # What this package must NOT do
//
//   - log or echo passwords and tokens
//   - retry on its own; retries belong to the caller's rotation loop
package validator
