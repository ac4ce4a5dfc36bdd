// Package portalauth implements the authentication session lifecycle for a
// grants application portal acting as an OIDC relying party.
//
// The package decides, for every incoming request, whether a browser's
// session is valid, refreshes the upstream identity token when it has
// expired, and protects the sign-in/sign-out transitions against forgery
// and open redirects. Session state lives server-side in a TTL keyed store;
// the browser cookie carries only an opaque session id.
package portalauth

import (
	"context"
	"fmt"
)

// Authenticator wires the session lifecycle components together and exposes
// the operations the request pipeline consumes. Construct it once at
// startup with New.
type Authenticator struct {
	cfg         *Config
	logger      Logger
	store       SessionStore
	provider    IdentityProvider
	states      *StateManager
	coordinator *RefreshCoordinator
	validator   *SessionValidator
	cookies     *CookieManager
}

// Option customizes construction, mainly to inject fakes in tests.
type Option func(*Authenticator)

// WithLogger replaces the default logger.
func WithLogger(logger Logger) Option {
	return func(a *Authenticator) { a.logger = logger }
}

// WithStore replaces the config-selected session store.
func WithStore(store SessionStore) Option {
	return func(a *Authenticator) { a.store = store }
}

// WithProvider replaces the discovered OIDC provider.
func WithProvider(provider IdentityProvider) Option {
	return func(a *Authenticator) { a.provider = provider }
}

// New validates the configuration, connects the session store, performs
// provider discovery, and wires all components. A discovery failure is
// fatal: it returns *UpstreamConfigError and the process should not come up.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Authenticator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Authenticator{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		a.logger = NewLogger(cfg.LogLevel)
	}

	if a.store == nil {
		if cfg.RedisAddr != "" {
			store, err := NewRedisStore(ctx, RedisOptions{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to connect session store: %w", err)
			}
			a.store = store
			a.logger.Infof("Using redis session store at %s", cfg.RedisAddr)
		} else {
			a.store = NewMemoryStore()
			a.logger.Info("Using in-memory session store")
		}
	}

	if a.provider == nil {
		provider, err := NewOIDCProvider(ctx, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.provider = provider
	}

	cookies, err := NewCookieManager(cfg.CookieSecret, cfg.CookieName, cfg.ForceHTTPS, cfg.SessionTTL, a.logger)
	if err != nil {
		return nil, err
	}
	a.cookies = cookies

	a.states = NewStateManager(a.store, cfg.StateTTL, a.logger)
	a.coordinator = NewRefreshCoordinator(a.provider, a.logger)
	a.validator = NewSessionValidator(a.store, a.coordinator, cfg, a.logger)

	return a, nil
}

// ValidateSession decides whether the session id identifies an
// authenticated session, refreshing the upstream token if needed. Any error
// means "not authenticated" and the routing layer should redirect to
// sign-in.
func (a *Authenticator) ValidateSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	return a.validator.Validate(ctx, sessionID)
}

// Cookies returns the browser cookie manager used to carry the session id
// and pre-sign-in flow id.
func (a *Authenticator) Cookies() *CookieManager {
	return a.cookies
}
