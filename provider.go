package portalauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenResponse represents the response from the provider's token endpoint.
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ProviderMetadata represents the provider configuration retrieved from its
// .well-known/openid-configuration endpoint.
type ProviderMetadata struct {
	Issuer        string `json:"issuer"`
	AuthURL       string `json:"authorization_endpoint"`
	TokenURL      string `json:"token_endpoint"`
	JWKSURL       string `json:"jwks_uri"`
	EndSessionURL string `json:"end_session_endpoint"`
}

// IdentityProvider abstracts the OAuth2/OIDC provider. The session
// lifecycle depends only on this interface, so tests run against a fake.
type IdentityProvider interface {
	// AuthorizeURL builds the user-facing authorization redirect carrying
	// the given state value.
	AuthorizeURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)

	// ExchangeRefreshToken exchanges a refresh token for a new token pair.
	// Failures are reported as *RefreshError; the provider never retries.
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)

	// LogoutURL builds the provider's end-session redirect carrying the
	// given state value.
	LogoutURL(state string) string
}

// OIDCProvider implements IdentityProvider against a real OIDC provider,
// using endpoint URLs from the discovery document.
type OIDCProvider struct {
	metadata      *ProviderMetadata
	clientID      string
	clientSecret  string
	scopes        []string
	callbackURL   string
	postLogoutURL string
	httpClient    *http.Client
	timeout       time.Duration
	logger        Logger
}

// NewOIDCProvider fetches the provider's discovery document and returns a
// configured provider. A discovery failure returns *UpstreamConfigError and
// must abort startup: the system does not come up half-configured.
func NewOIDCProvider(ctx context.Context, cfg *Config, logger Logger) (*OIDCProvider, error) {
	if logger == nil {
		logger = GetNoOpLogger()
	}

	httpClient := &http.Client{Timeout: cfg.ExchangeTimeout}

	metadata, err := fetchProviderMetadata(ctx, cfg.ProviderURL, httpClient)
	if err != nil {
		return nil, &UpstreamConfigError{URL: cfg.ProviderURL, Err: err}
	}
	logger.Debugf("Provider metadata loaded from %s (token endpoint: %s)", cfg.ProviderURL, metadata.TokenURL)

	return &OIDCProvider{
		metadata:      metadata,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		scopes:        cfg.Scopes,
		callbackURL:   cfg.CallbackURL,
		postLogoutURL: cfg.PostLogoutRedirectURL,
		httpClient:    httpClient,
		timeout:       cfg.ExchangeTimeout,
		logger:        logger,
	}, nil
}

// fetchProviderMetadata retrieves and parses the discovery document.
func fetchProviderMetadata(ctx context.Context, providerURL string, client *http.Client) (*ProviderMetadata, error) {
	wellKnownURL := strings.TrimSuffix(providerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var metadata ProviderMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if metadata.AuthURL == "" || metadata.TokenURL == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	return &metadata, nil
}

// AuthorizeURL builds the authorization redirect for the sign-in flow.
func (p *OIDCProvider) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", p.callbackURL)
	params.Set("state", state)
	if len(p.scopes) > 0 {
		params.Set("scope", strings.Join(p.scopes, " "))
	}
	return p.metadata.AuthURL + "?" + params.Encode()
}

// LogoutURL builds the provider end-session redirect for the sign-out flow.
func (p *OIDCProvider) LogoutURL(state string) string {
	if p.metadata.EndSessionURL == "" {
		return p.postLogoutURL
	}
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("state", state)
	if p.postLogoutURL != "" {
		params.Set("post_logout_redirect_uri", p.postLogoutURL)
	}
	return p.metadata.EndSessionURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return p.exchangeTokens(ctx, "authorization_code", code)
}

// ExchangeRefreshToken performs a single refresh-token exchange. Non-2xx
// responses and transport failures surface as *RefreshError carrying the
// upstream status and best-effort body; retry policy belongs to the caller.
func (p *OIDCProvider) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	tokenResponse, err := p.exchangeTokens(ctx, "refresh_token", refreshToken)
	if err != nil {
		return nil, err
	}
	if tokenResponse.AccessToken == "" {
		return nil, &RefreshError{Message: "provider returned no access token"}
	}
	return tokenResponse, nil
}

// exchangeTokens posts a grant to the token endpoint and decodes the
// response.
func (p *OIDCProvider) exchangeTokens(ctx context.Context, grantType, codeOrToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {grantType},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}

	switch grantType {
	case "authorization_code":
		data.Set("code", codeOrToken)
		data.Set("redirect_uri", p.callbackURL)
	case "refresh_token":
		data.Set("refresh_token", codeOrToken)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.metadata.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if grantType == "refresh_token" {
			return nil, &RefreshError{Message: "token endpoint unreachable", Err: err}
		}
		return nil, fmt.Errorf("failed to exchange tokens: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if grantType == "refresh_token" {
			return nil, &RefreshError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		}
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var tokenResponse TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResponse, nil
}
