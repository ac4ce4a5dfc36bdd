package portalauth

import (
	"context"
	"time"
)

// SessionValidator is the state machine consulted on every authenticated
// request. It loads the session record, checks access-token expiry,
// triggers refresh when enabled, and returns an accept/reject decision.
//
//	no session ─ load ─→ not found ─→ Reject
//	                └──→ found ─ expiry ─→ valid ─→ Accept
//	                                 └──→ expired ─ refresh off ─→ Reject
//	                                           └── refresh on ──→ exchange
//	                                                  ├─ success → persist, Accept
//	                                                  └─ failure → Reject, record untouched
type SessionValidator struct {
	store         SessionStore
	coordinator   *RefreshCoordinator
	logger        Logger
	enableRefresh bool
	gracePeriod   time.Duration
	sessionTTL    time.Duration
}

// NewSessionValidator wires the validator over its store and refresh
// coordinator.
func NewSessionValidator(store SessionStore, coordinator *RefreshCoordinator, cfg *Config, logger Logger) *SessionValidator {
	if logger == nil {
		logger = GetNoOpLogger()
	}
	return &SessionValidator{
		store:         store,
		coordinator:   coordinator,
		logger:        logger,
		enableRefresh: cfg.EnableRefresh,
		gracePeriod:   cfg.RefreshGracePeriod,
		sessionTTL:    cfg.SessionTTL,
	}
}

// Validate decides whether the session is authenticated. Every error return
// means "not authenticated"; none is soft. A valid, unexpired token is
// accepted without any upstream call.
func (v *SessionValidator) Validate(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if sessionID == "" {
		v.logger.Debug("Session validation with empty session id")
		return nil, Reported(ErrSessionNotFound)
	}

	data, ok, err := v.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		v.logger.Errorf("Session store lookup failed: %v", err)
		return nil, Reported(err)
	}
	if !ok {
		// A cookie without a record is the normal signed-out case, not an
		// error.
		v.logger.Infof("Session not found: %s", sessionID)
		return nil, Reported(ErrSessionNotFound)
	}

	rec, err := decodeSessionRecord(data)
	if err != nil {
		v.logger.Errorf("Corrupt session record for %s: %v", sessionID, err)
		return nil, Reported(ErrSessionNotFound)
	}

	// Refresh re-persists the record and slides the store TTL, so the
	// absolute lifetime is enforced against the original issue time.
	if rec.IssuedAt > 0 && time.Since(time.Unix(rec.IssuedAt, 0)) >= v.sessionTTL {
		v.logger.Infof("Session %s exceeded its absolute lifetime", rec.SessionID)
		return nil, Reported(ErrSessionExpired)
	}

	if !tokenExpiresWithin(rec.AccessToken, v.gracePeriod) {
		return rec, nil
	}

	if !v.enableRefresh {
		// Expired sessions are never silently extended when refresh is off.
		v.logger.Infof("Session %s expired and refresh is disabled", sessionID)
		return nil, Reported(ErrSessionExpired)
	}

	return v.refreshSession(ctx, rec)
}

// refreshSession exchanges the stored refresh token and persists the new
// pair into the same record. On failure the stored record is left untouched
// so a later request can retry.
func (v *SessionValidator) refreshSession(ctx context.Context, rec *SessionRecord) (*SessionRecord, error) {
	v.logger.Debugf("Access token expired for session %s, attempting refresh", rec.SessionID)

	pair, err := v.coordinator.Refresh(ctx, rec.SessionID, rec.RefreshToken)
	if err != nil {
		v.logger.Errorf("Token refresh failed for session %s: %v", rec.SessionID, err)
		return nil, Reported(err)
	}

	rec.AccessToken = pair.AccessToken
	rec.RefreshToken = pair.RefreshToken

	data, err := encodeSessionRecord(rec)
	if err != nil {
		v.logger.Errorf("Failed to encode refreshed session %s: %v", rec.SessionID, err)
		return nil, Reported(err)
	}
	if err := v.store.Set(ctx, sessionKeyPrefix+rec.SessionID, data, v.sessionTTL); err != nil {
		v.logger.Errorf("Failed to persist refreshed session %s: %v", rec.SessionID, err)
		return nil, Reported(err)
	}

	v.logger.Debugf("Session %s refreshed", rec.SessionID)
	return rec, nil
}
