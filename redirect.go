package portalauth

import (
	"fmt"
	"net/url"
	"strings"
)

// SafeRedirect validates an untrusted redirect candidate, typically taken
// from a query parameter. It returns the candidate unchanged when it is a
// same-origin relative path, or the fallback when it is anything else:
// absolute URLs, protocol-relative paths, values with embedded control
// characters, or values a browser could reinterpret as cross-origin.
//
// The second return value reports whether the candidate was accepted, so
// the caller can decide whether to log the rejection. The function has no
// side effects and is safe to call repeatedly with the same input.
func SafeRedirect(candidate, fallback string) (string, bool) {
	if !isSafeRelativePath(candidate) {
		return fallback, false
	}
	return candidate, true
}

// ValidateRedirect is the error-returning form of SafeRedirect, for callers
// that want to fail instead of falling back. It returns ErrRedirectRejected
// wrapped with the rejected candidate.
func ValidateRedirect(candidate string) error {
	if !isSafeRelativePath(candidate) {
		return fmt.Errorf("%w: %q", ErrRedirectRejected, candidate)
	}
	return nil
}

// isSafeRelativePath reports whether p is a single-origin relative path.
func isSafeRelativePath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}

	// "//host" is protocol-relative and "/\host" is treated the same way by
	// browsers that normalize backslashes.
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return false
	}

	if strings.ContainsAny(p, "\\\r\n\t\x00") {
		return false
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}

	// A parse failure, or anything that parses with a scheme or host, is
	// not a plain relative path.
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return false
	}

	return true
}
