package portalauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIdP is an httptest server speaking just enough of the provider
// protocol: discovery, token endpoint, end-session.
type fakeIdP struct {
	server *httptest.Server

	tokenStatus int
	tokenBody   interface{}

	lastTokenForm url.Values
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 idp.server.URL,
			"authorization_endpoint": idp.server.URL + "/authorize",
			"token_endpoint":         idp.server.URL + "/token",
			"end_session_endpoint":   idp.server.URL + "/logout",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idp.lastTokenForm = r.PostForm
		w.WriteHeader(idp.tokenStatus)
		if idp.tokenBody != nil {
			json.NewEncoder(w).Encode(idp.tokenBody)
		}
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func newProviderAgainst(t *testing.T, idp *fakeIdP) *OIDCProvider {
	t.Helper()

	cfg := testConfig()
	cfg.ProviderURL = idp.server.URL
	p, err := NewOIDCProvider(context.Background(), cfg, GetNoOpLogger())
	require.NoError(t, err)
	return p
}

func TestNewOIDCProviderDiscovery(t *testing.T) {
	idp := newFakeIdP(t)
	p := newProviderAgainst(t, idp)

	assert.Equal(t, idp.server.URL+"/token", p.metadata.TokenURL)
	assert.Equal(t, idp.server.URL+"/logout", p.metadata.EndSessionURL)
}

func TestNewOIDCProviderDiscoveryFailureIsFatal(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		cfg := testConfig()
		cfg.ProviderURL = "http://127.0.0.1:1"
		_, err := NewOIDCProvider(context.Background(), cfg, GetNoOpLogger())
		var configErr *UpstreamConfigError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, cfg.ProviderURL, configErr.URL)
	})

	t.Run("incomplete document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
		}))
		defer srv.Close()

		cfg := testConfig()
		cfg.ProviderURL = srv.URL
		_, err := NewOIDCProvider(context.Background(), cfg, GetNoOpLogger())
		var configErr *UpstreamConfigError
		require.ErrorAs(t, err, &configErr)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfg := testConfig()
		cfg.ProviderURL = srv.URL
		_, err := NewOIDCProvider(context.Background(), cfg, GetNoOpLogger())
		var configErr *UpstreamConfigError
		require.ErrorAs(t, err, &configErr)
	})
}

func TestAuthorizeURLParameters(t *testing.T) {
	idp := newFakeIdP(t)
	p := newProviderAgainst(t, idp)

	u, err := url.Parse(p.AuthorizeURL("state-123"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/authorize"))

	q := u.Query()
	assert.Equal(t, "grants-portal", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "https://portal.example/signin-oidc", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile email offline_access", q.Get("scope"))
}

func TestLogoutURLParameters(t *testing.T) {
	idp := newFakeIdP(t)
	p := newProviderAgainst(t, idp)

	u, err := url.Parse(p.LogoutURL("state-456"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/logout"))

	q := u.Query()
	assert.Equal(t, "state-456", q.Get("state"))
	assert.Equal(t, "https://portal.example/signed-out", q.Get("post_logout_redirect_uri"))
}

func TestLogoutURLWithoutEndSessionEndpoint(t *testing.T) {
	idp := newFakeIdP(t)
	p := newProviderAgainst(t, idp)
	p.metadata.EndSessionURL = ""

	assert.Equal(t, "https://portal.example/signed-out", p.LogoutURL("state"))
}

func TestExchangeCode(t *testing.T) {
	idp := newFakeIdP(t)
	idp.tokenBody = map[string]string{
		"id_token":      "id.token.value",
		"access_token":  "access-token",
		"refresh_token": "refresh-token",
	}
	p := newProviderAgainst(t, idp)

	resp, err := p.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "refresh-token", resp.RefreshToken)

	form := idp.lastTokenForm
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.Equal(t, "https://portal.example/signin-oidc", form.Get("redirect_uri"))
	assert.Equal(t, "grants-portal", form.Get("client_id"))
}

func TestExchangeRefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	idp.tokenBody = map[string]string{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
	}
	p := newProviderAgainst(t, idp)

	resp, err := p.ExchangeRefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", resp.AccessToken)

	form := idp.lastTokenForm
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Empty(t, form.Get("redirect_uri"))
}

func TestExchangeRefreshTokenFailures(t *testing.T) {
	t.Run("provider error status", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.tokenStatus = http.StatusBadRequest
		idp.tokenBody = map[string]string{"error": "invalid_grant"}
		p := newProviderAgainst(t, idp)

		_, err := p.ExchangeRefreshToken(context.Background(), "revoked")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
		assert.Contains(t, refreshErr.Message, "invalid_grant")
	})

	t.Run("no access token in response", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.tokenBody = map[string]string{"refresh_token": "only-refresh"}
		p := newProviderAgainst(t, idp)

		_, err := p.ExchangeRefreshToken(context.Background(), "old-refresh")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		idp := newFakeIdP(t)
		p := newProviderAgainst(t, idp)
		p.metadata.TokenURL = "http://127.0.0.1:1/token"

		_, err := p.ExchangeRefreshToken(context.Background(), "old-refresh")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Zero(t, refreshErr.StatusCode)
	})
}

func TestExchangeCodeErrorIsNotRefreshError(t *testing.T) {
	idp := newFakeIdP(t)
	idp.tokenStatus = http.StatusBadRequest
	idp.tokenBody = map[string]string{"error": "invalid_grant"}
	p := newProviderAgainst(t, idp)

	_, err := p.ExchangeCode(context.Background(), "bad-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}
