package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/credpool/store"
)

const (
	// DefaultSignInPath is appended to the base URL.
	DefaultSignInPath = "/api/v1/auths/signin"
	// DefaultTimeout bounds a single sign-in round trip.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// StatusError is a non-2xx answer from the sign-in endpoint.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sign-in failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sign-in failed: HTTP %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps credential rejections onto store.ErrInvalidCredentials.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return store.ErrInvalidCredentials
	}
	return nil
}

// RateLimited reports whether the endpoint refused because of rate or quota limits.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Token is a successful sign-in.
type Token struct {
	Value string
	// ExpiresIn is zero when the endpoint did not report a lifetime.
	ExpiresIn time.Duration
}

// Client signs in against one upstream endpoint.
type Client struct {
	url     string
	path    string
	timeout time.Duration
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSignInPath overrides DefaultSignInPath.
func WithSignInPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.path = "/" + strings.TrimLeft(p, "/")
		}
	}
}

// New returns a client for baseURL, e.g. "https://api.example.com".
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("validator: base URL is required")
	}
	c := &Client{
		path:    DefaultSignInPath,
		timeout: DefaultTimeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.url = baseURL + c.path
	return c, nil
}

// URL returns the sign-in endpoint.
func (c *Client) URL() string {
	return c.url
}

// Validate reports whether email/password can sign in, returning the token.
func (c *Client) Validate(ctx context.Context, email, password string) (string, error) {
	tok, err := c.SignIn(ctx, email, password)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token     string  `json:"token"`
	ExpiresIn float64 `json:"expires_in"`
	Detail    string  `json:"detail"`
}

// SignIn posts the credentials and returns the bearer token.
func (c *Client) SignIn(ctx context.Context, email, password string) (Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(signInRequest{Email: email, Password: password})
	if err != nil {
		return Token{}, fmt.Errorf("encode sign-in: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Token{}, fmt.Errorf("%w: %v", store.ErrValidationTimeout, err)
		}
		return Token{}, fmt.Errorf("sign-in request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return Token{}, fmt.Errorf("%w: %v", store.ErrValidationTimeout, err)
		}
		return Token{}, fmt.Errorf("read sign-in response: %w", err)
	}

	var out signInResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, &StatusError{StatusCode: resp.StatusCode, Detail: out.Detail}
	}
	if decodeErr != nil {
		return Token{}, fmt.Errorf("%w: malformed sign-in response", store.ErrInvalidCredentials)
	}
	if out.Token == "" {
		return Token{}, fmt.Errorf("%w: no token in sign-in response", store.ErrInvalidCredentials)
	}

	tok := Token{Value: out.Token}
	if out.ExpiresIn > 0 {
		tok.ExpiresIn = time.Duration(out.ExpiresIn * float64(time.Second))
	}
	return tok, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
