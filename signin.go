package portalauth

import (
	"context"
	"fmt"
)

// Callback carries the values received on the provider's redirect back to
// the portal: the authorization code, the round-tripped state, and any
// provider-reported error.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// BeginSignIn starts the sign-in flow for a browser identified by flowKey.
// It remembers the intended destination, issues the CSRF state, and returns
// the provider authorization URL to redirect the user to.
//
// The intended path is validated before storage as well as after: an unsafe
// value is simply not remembered, so the post-sign-in redirect falls back
// to home.
func (a *Authenticator) BeginSignIn(ctx context.Context, flowKey, intendedPath string) (string, error) {
	if path, ok := SafeRedirect(intendedPath, ""); ok {
		if err := a.store.Set(ctx, redirectKeyPrefix+flowKey, []byte(path), a.cfg.StateTTL); err != nil {
			return "", fmt.Errorf("failed to store intended destination: %w", err)
		}
	} else if intendedPath != "" {
		a.logger.Infof("Rejected unsafe intended destination: %q", intendedPath)
	}

	state, err := a.states.Issue(ctx, flowKey)
	if err != nil {
		return "", fmt.Errorf("failed to issue sign-in state: %w", err)
	}

	return a.provider.AuthorizeURL(state), nil
}

// CompleteSignIn processes the provider callback: it validates the CSRF
// state, exchanges the authorization code, extracts the profile, and
// persists a new session record. The returned profile's SessionID is what
// the caller binds to the browser via the cookie manager.
//
// Every failure is terminal for this sign-in attempt only and is returned
// already logged, so outer handlers surface a generic unauthorized outcome
// without logging again.
func (a *Authenticator) CompleteSignIn(ctx context.Context, flowKey string, cb Callback) (*Profile, error) {
	if cb.Error != "" {
		desc := cb.ErrorDescription
		if desc == "" {
			desc = cb.Error
		}
		a.logger.Errorf("Provider returned error on callback: %s - %s", cb.Error, desc)
		return nil, Reported(fmt.Errorf("provider error: %s", cb.Error))
	}

	if !a.states.Consume(ctx, flowKey, cb.State) {
		a.logger.Error("State parameter mismatch on sign-in callback")
		return nil, Reported(ErrCsrfMismatch)
	}

	if cb.Code == "" {
		a.logger.Error("No authorization code in callback")
		return nil, Reported(ErrMissingCredentials)
	}

	creds, err := a.provider.ExchangeCode(ctx, cb.Code)
	if err != nil {
		a.logger.Errorf("Code exchange failed: %v", err)
		return nil, Reported(err)
	}

	profile, err := ExtractProfile(creds)
	if err != nil {
		a.logger.Errorf("Profile extraction failed: %v", err)
		return nil, Reported(err)
	}

	rec := SessionRecordFromProfile(profile, creds)
	data, err := encodeSessionRecord(rec)
	if err != nil {
		a.logger.Errorf("Failed to encode new session record: %v", err)
		return nil, Reported(err)
	}
	if err := a.store.Set(ctx, sessionKeyPrefix+rec.SessionID, data, a.cfg.SessionTTL); err != nil {
		a.logger.Errorf("Failed to persist new session record: %v", err)
		return nil, Reported(err)
	}

	a.logger.Infof("Sign-in complete for subject %s (session %s)", profile.SubjectID, profile.SessionID)
	return profile, nil
}

// PostSignInRedirect returns the destination for the browser after a
// completed sign-in: the stored intended path when one exists and passes
// validation, otherwise the application home. The stored value is cleared
// either way.
func (a *Authenticator) PostSignInRedirect(ctx context.Context, flowKey string) string {
	key := redirectKeyPrefix + flowKey

	stored, ok, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Errorf("Failed to read intended destination: %v", err)
		return a.cfg.HomePath
	}
	if !ok {
		return a.cfg.HomePath
	}
	if err := a.store.Delete(ctx, key); err != nil {
		a.logger.Errorf("Failed to clear intended destination: %v", err)
	}

	path, ok := SafeRedirect(string(stored), a.cfg.HomePath)
	if !ok {
		a.logger.Infof("Rejected stored redirect target: %q", string(stored))
	}
	return path
}

// OrganisationSwitchRedirect handles the organisation-switch re-entry
// route. Under normal flow the provider strategy intercepts before this is
// reached; when it is reached anyway, the raw query value gets the same
// safe-redirect bounce as post-sign-in and is never trusted.
func (a *Authenticator) OrganisationSwitchRedirect(raw string) string {
	path, ok := SafeRedirect(raw, a.cfg.HomePath)
	if !ok && raw != "" {
		a.logger.Infof("Rejected organisation-switch redirect target: %q", raw)
	}
	return path
}
