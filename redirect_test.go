package portalauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeRedirectAcceptsRelativePaths(t *testing.T) {
	for _, candidate := range []string{
		"/",
		"/home",
		"/apply/land-parcels",
		"/apply?step=2&parcel=AB1234",
		"/apply/actions#section-3",
	} {
		t.Run(candidate, func(t *testing.T) {
			got, ok := SafeRedirect(candidate, "/home")
			assert.True(t, ok)
			assert.Equal(t, candidate, got)
		})
	}
}

func TestSafeRedirectRejectsUnsafeCandidates(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"absolute https", "https://evil.example/x"},
		{"absolute http", "http://evil.example/x"},
		{"protocol relative", "//evil.example"},
		{"protocol relative with path", "//evil.example/login"},
		{"backslash host", "/\\evil.example"},
		{"embedded backslash", "/apply\\..\\admin"},
		{"no leading slash", "apply"},
		{"scheme without slashes", "javascript:alert(1)"},
		{"newline injection", "/apply\r\nSet-Cookie:x=y"},
		{"tab character", "/apply\tx"},
		{"null byte", "/apply\x00"},
		{"delete character", "/apply\x7f"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SafeRedirect(tc.candidate, "/home")
			assert.False(t, ok)
			assert.Equal(t, "/home", got)
			assert.NotEqual(t, tc.candidate, got, "unsafe candidate must never be returned verbatim")
		})
	}
}

func TestValidateRedirect(t *testing.T) {
	assert.NoError(t, ValidateRedirect("/apply/land-parcels"))

	err := ValidateRedirect("//evil.example")
	assert.ErrorIs(t, err, ErrRedirectRejected)
	assert.Contains(t, err.Error(), "//evil.example")
}

func TestSafeRedirectIsIdempotent(t *testing.T) {
	first, ok1 := SafeRedirect("//evil.example", "/home")
	second, ok2 := SafeRedirect("//evil.example", "/home")
	assert.Equal(t, first, second)
	assert.Equal(t, ok1, ok2)
}
