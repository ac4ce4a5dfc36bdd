package portalauth

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCookieName = "_grants_portal_s"

	// minCookieSecretLength is the minimum length for the cookie signing key.
	minCookieSecretLength = 32
)

// Config holds all settings for the authenticator. It is passed explicitly
// into New rather than read from shared global state.
type Config struct {
	// ProviderURL is the identity provider's issuer URL. The discovery
	// document is fetched from its /.well-known/openid-configuration path.
	ProviderURL string `yaml:"providerURL"`

	// ClientID and ClientSecret identify this portal to the provider.
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`

	// Scopes requested during authorization.
	Scopes []string `yaml:"scopes"`

	// CallbackURL is the absolute redirect_uri registered with the provider.
	CallbackURL string `yaml:"callbackURL"`

	// PostLogoutRedirectURL is where the provider sends the browser after
	// ending its own session.
	PostLogoutRedirectURL string `yaml:"postLogoutRedirectURL"`

	// HomePath is the fallback destination for rejected or absent redirect
	// targets.
	HomePath string `yaml:"homePath"`

	// CookieName and CookieSecret configure the browser session cookie.
	// The cookie carries only the opaque session id, never tokens.
	CookieName   string `yaml:"cookieName"`
	CookieSecret string `yaml:"cookieSecret"`

	// ForceHTTPS enforces secure cookie attributes regardless of request
	// scheme.
	ForceHTTPS bool `yaml:"forceHTTPS"`

	// SessionTTL is the lifetime of a session record in the store.
	SessionTTL time.Duration `yaml:"-"`

	// StateTTL is the lifetime of CSRF state and intended-redirect values.
	StateTTL time.Duration `yaml:"-"`

	// EnableRefresh controls whether expired access tokens are refreshed.
	// When false, expired sessions are rejected outright.
	EnableRefresh bool `yaml:"enableRefresh"`

	// RefreshGracePeriod treats tokens this close to expiry as expired, so
	// refresh happens before the token actually lapses.
	RefreshGracePeriod time.Duration `yaml:"-"`

	// ExchangeTimeout bounds each call to the provider's token endpoint.
	ExchangeTimeout time.Duration `yaml:"-"`

	// RedisAddr selects the Redis session store when set; the in-memory
	// store is used otherwise.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	LogLevel string `yaml:"logLevel"`
}

// CreateConfig returns a Config populated with defaults.
func CreateConfig() *Config {
	return &Config{
		Scopes:             []string{"openid", "profile", "email", "offline_access"},
		HomePath:           "/",
		CookieName:         defaultCookieName,
		SessionTTL:         4 * time.Hour,
		StateTTL:           5 * time.Minute,
		EnableRefresh:      true,
		RefreshGracePeriod: 30 * time.Second,
		ExchangeTimeout:    10 * time.Second,
		LogLevel:           "info",
	}
}

// Validate checks that all required settings are present and sane.
func (c *Config) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("providerURL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("clientID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("callbackURL is required")
	}
	if len(c.CookieSecret) < minCookieSecretLength {
		return fmt.Errorf("cookieSecret must be at least %d bytes long", minCookieSecretLength)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("sessionTTL must be positive")
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("stateTTL must be positive")
	}
	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchangeTimeout must be positive")
	}
	return nil
}

// fileConfig mirrors Config for yaml decoding, with durations as strings
// (e.g. "4h", "5m", "10s") parsed by time.ParseDuration.
type fileConfig struct {
	Config             `yaml:",inline"`
	SessionTTL         string `yaml:"sessionTTL"`
	StateTTL           string `yaml:"stateTTL"`
	RefreshGracePeriod string `yaml:"refreshGracePeriod"`
	ExchangeTimeout    string `yaml:"exchangeTimeout"`
}

// LoadConfigFile reads a yaml config file, applying defaults for anything
// the file omits.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	fc := fileConfig{Config: *CreateConfig()}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := fc.Config
	if err := applyDuration(&cfg.SessionTTL, fc.SessionTTL, "sessionTTL"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.StateTTL, fc.StateTTL, "stateTTL"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.RefreshGracePeriod, fc.RefreshGracePeriod, "refreshGracePeriod"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.ExchangeTimeout, fc.ExchangeTimeout, "exchangeTimeout"); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s duration %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}
