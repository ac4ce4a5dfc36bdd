package portalauth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the authentication flow. Callers are expected to test
// them with errors.Is; every one of them means "not authenticated" for the
// request that produced it.
var (
	// ErrMissingCredentials indicates the upstream response carried no token.
	ErrMissingCredentials = errors.New("missing credentials in provider response")

	// ErrTokenDecode indicates the token could not be parsed as a signed
	// token structure.
	ErrTokenDecode = errors.New("token could not be decoded")

	// ErrEmptyPayload indicates the token decoded to an empty claims body.
	ErrEmptyPayload = errors.New("token payload is empty")

	// ErrSessionNotFound indicates no session record exists for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the access token expired and refresh is
	// disabled by configuration.
	ErrSessionExpired = errors.New("session expired")

	// ErrRedirectRejected indicates a redirect candidate failed same-origin
	// validation.
	ErrRedirectRejected = errors.New("redirect target rejected")

	// ErrCsrfMismatch indicates a state parameter did not match the issued
	// value, or had already been consumed.
	ErrCsrfMismatch = errors.New("state parameter mismatch")
)

// MissingClaimsError reports every required claim absent from a decoded
// token, not just the first one found.
type MissingClaimsError struct {
	Missing []string
}

func (e *MissingClaimsError) Error() string {
	return fmt.Sprintf("token missing required claims: %s", strings.Join(e.Missing, ", "))
}

// RefreshError carries the upstream status and message from a failed
// refresh-token exchange.
type RefreshError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token refresh failed: %s", e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *RefreshError) Unwrap() error {
	return e.Err
}

// UpstreamConfigError indicates the provider's discovery document could not
// be fetched or parsed. It is fatal to construction: the system must not
// come up half-configured.
type UpstreamConfigError struct {
	URL string
	Err error
}

func (e *UpstreamConfigError) Error() string {
	return fmt.Sprintf("failed to load provider configuration from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpstreamConfigError) Unwrap() error {
	return e.Err
}

// reportedError marks an error that has already been logged at the point it
// was produced, so outer handlers can avoid duplicate log entries.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// Reported wraps err to mark it as already logged. Wrapping nil returns nil;
// wrapping an already-reported error returns it unchanged.
func Reported(err error) error {
	if err == nil {
		return nil
	}
	if IsReported(err) {
		return err
	}
	return &reportedError{err: err}
}

// IsReported reports whether err has already been logged somewhere along
// its propagation path.
func IsReported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}
