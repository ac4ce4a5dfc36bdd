package portalauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeProvider is an in-memory IdentityProvider for exercising the session
// lifecycle without network calls.
type fakeProvider struct {
	mu            sync.Mutex
	exchangeCalls int
	refreshCalls  int

	codeResp    *TokenResponse
	codeErr     error
	refreshResp *TokenResponse
	refreshErr  error

	// refreshDelay simulates a slow token endpoint for race tests.
	refreshDelay time.Duration
}

func (f *fakeProvider) AuthorizeURL(state string) string {
	return "https://idp.example/authorize?state=" + state
}

func (f *fakeProvider) LogoutURL(state string) string {
	return "https://idp.example/logout?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	f.mu.Lock()
	f.exchangeCalls++
	f.mu.Unlock()
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.codeResp, nil
}

func (f *fakeProvider) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResp, nil
}

func (f *fakeProvider) callCounts() (exchanges, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls, f.refreshCalls
}

// makeToken builds an unsigned JWT carrying the given claims, for the
// decode-only paths under test.
func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	if err != nil {
		t.Fatalf("failed to marshal token header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal token claims: %v", err)
	}

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

// makeAccessToken builds an unsigned JWT whose exp claim is the given time.
func makeAccessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	return makeToken(t, map[string]interface{}{
		"sub": "access",
		"exp": exp.Unix(),
	})
}

// makeIDToken builds a provider identity token with the portal's required
// claims.
func makeIDToken(t *testing.T) string {
	t.Helper()
	return makeToken(t, map[string]interface{}{
		"sub":                   "subject-123",
		"firstName":             "Marta",
		"lastName":              "Kowalska",
		"currentRelationshipId": "org-456",
		"role":                  "applicant",
		"exp":                   time.Now().Add(time.Hour).Unix(),
	})
}

// testConfig returns a valid Config for wiring test authenticators.
func testConfig() *Config {
	cfg := CreateConfig()
	cfg.ProviderURL = "https://idp.example"
	cfg.ClientID = "grants-portal"
	cfg.ClientSecret = "test-client-secret"
	cfg.CallbackURL = "https://portal.example/signin-oidc"
	cfg.PostLogoutRedirectURL = "https://portal.example/signed-out"
	cfg.CookieSecret = "0123456789abcdef0123456789abcdef"
	cfg.LogLevel = "none"
	return cfg
}

// newTestAuthenticator wires an Authenticator over a memory store and the
// given fake provider.
func newTestAuthenticator(t *testing.T, cfg *Config, provider IdentityProvider) (*Authenticator, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	a, err := New(context.Background(), cfg,
		WithLogger(GetNoOpLogger()),
		WithStore(store),
		WithProvider(provider),
	)
	if err != nil {
		t.Fatalf("failed to build authenticator: %v", err)
	}
	return a, store
}
