package portalauth

import (
	"context"
	"fmt"
)

// BeginSignOut starts the sign-out flow for an authenticated session. It
// issues a fresh CSRF state keyed by the session and returns the provider's
// end-session URL to redirect the user to.
func (a *Authenticator) BeginSignOut(ctx context.Context, rec *SessionRecord) (string, error) {
	state, err := a.states.Issue(ctx, rec.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to issue sign-out state: %w", err)
	}
	return a.provider.LogoutURL(state), nil
}

// CompleteSignOut evicts the session record. The received state is checked
// against the issued one, but a mismatch never blocks the sign-out: the
// local session is cleared regardless, and the mismatch is logged and
// reported as ErrCsrfMismatch so the caller can treat the provider-logout
// redirect as untrusted. Preferring always-log-out over strict CSRF
// enforcement here is deliberate.
func (a *Authenticator) CompleteSignOut(ctx context.Context, rec *SessionRecord, receivedState string) error {
	stateOK := a.states.Consume(ctx, rec.SessionID, receivedState)
	if !stateOK {
		a.logger.Errorf("State mismatch on sign-out for session %s; clearing local session anyway", rec.SessionID)
	}

	if err := a.store.Delete(ctx, sessionKeyPrefix+rec.SessionID); err != nil {
		a.logger.Errorf("Failed to evict session %s: %v", rec.SessionID, err)
		return Reported(err)
	}
	a.logger.Infof("Session %s signed out", rec.SessionID)

	if !stateOK {
		return Reported(ErrCsrfMismatch)
	}
	return nil
}
