package portalauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// Cookie value keys inside the signed session cookie.
const (
	cookieSessionIDKey = "sid"
	cookieFlowIDKey    = "fid"
)

// CookieManager binds the browser to its server-side session. The signed
// cookie carries only two opaque ids: the session id (present while signed
// in) and a flow id that keys CSRF state and intended-redirect values across
// the provider round trip. Tokens never travel in cookies.
type CookieManager struct {
	store      sessions.Store
	cookieName string
	forceHTTPS bool
	maxAge     time.Duration
	logger     Logger
}

// NewCookieManager creates a cookie manager. The signing secret must be at
// least 32 bytes.
func NewCookieManager(secret, cookieName string, forceHTTPS bool, maxAge time.Duration, logger Logger) (*CookieManager, error) {
	if len(secret) < minCookieSecretLength {
		return nil, fmt.Errorf("cookie secret must be at least %d bytes long", minCookieSecretLength)
	}
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	if logger == nil {
		logger = GetNoOpLogger()
	}
	return &CookieManager{
		store:      sessions.NewCookieStore([]byte(secret)),
		cookieName: cookieName,
		forceHTTPS: forceHTTPS,
		maxAge:     maxAge,
		logger:     logger,
	}, nil
}

// options returns secure cookie attributes for the current request:
// HTTP-only, SameSite=Lax, Secure under HTTPS or when forced.
func (cm *CookieManager) options(r *http.Request) *sessions.Options {
	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	return &sessions.Options{
		HttpOnly: true,
		Secure:   isSecure || cm.forceHTTPS,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cm.maxAge.Seconds()),
		Path:     "/",
	}
}

// ReadSessionID returns the session id carried by the request, or "" when
// absent or the cookie fails signature validation.
func (cm *CookieManager) ReadSessionID(r *http.Request) string {
	session, err := cm.store.Get(r, cm.cookieName)
	if err != nil {
		cm.logger.Debugf("Session cookie rejected: %v", err)
		return ""
	}
	id, _ := session.Values[cookieSessionIDKey].(string)
	return id
}

// WriteSessionID binds a session id to the browser.
func (cm *CookieManager) WriteSessionID(w http.ResponseWriter, r *http.Request, sessionID string) error {
	session, _ := cm.store.Get(r, cm.cookieName)
	session.Options = cm.options(r)
	session.Values[cookieSessionIDKey] = sessionID
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	return nil
}

// ClearSessionID expires the cookie and clears its values.
func (cm *CookieManager) ClearSessionID(w http.ResponseWriter, r *http.Request) error {
	session, _ := cm.store.Get(r, cm.cookieName)
	for k := range session.Values {
		delete(session.Values, k)
	}
	session.Options = cm.options(r)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session cookie: %w", err)
	}
	return nil
}

// EnsureFlowID returns the browser's flow id, minting and persisting one
// when the request does not carry it yet. The flow id keys pre-sign-in
// state (CSRF value, intended destination), which must survive the redirect
// to the provider and back.
func (cm *CookieManager) EnsureFlowID(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := cm.store.Get(r, cm.cookieName)
	if err != nil {
		cm.logger.Debugf("Replacing invalid session cookie: %v", err)
	}
	if id, ok := session.Values[cookieFlowIDKey].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	session.Options = cm.options(r)
	session.Values[cookieFlowIDKey] = id
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save flow id cookie: %w", err)
	}
	return id, nil
}

// ReadFlowID returns the flow id carried by the request, or "".
func (cm *CookieManager) ReadFlowID(r *http.Request) string {
	session, err := cm.store.Get(r, cm.cookieName)
	if err != nil {
		return ""
	}
	id, _ := session.Values[cookieFlowIDKey].(string)
	return id
}
