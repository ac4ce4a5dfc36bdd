package portalauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenPair is the result of a successful refresh exchange, ready for the
// caller to persist.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// refreshOperation is an in-flight exchange shared by all callers holding
// the same refresh token.
type refreshOperation struct {
	done chan struct{}
	pair *TokenPair
	err  error
}

// sessionLimiter pairs a rate limiter with its last use, so stale entries
// can be pruned without a background sweeper.
type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limits on refresh attempts per session. A session gets a burst of
// attempts, then one attempt per interval; this bounds how hard a stuck
// client can drive the provider without negatively caching failures.
const (
	refreshAttemptInterval = 5 * time.Second
	refreshAttemptBurst    = 3

	// maxTrackedSessions caps the limiter map; once exceeded, entries idle
	// longer than limiterIdleCutoff are pruned on the next acquisition.
	maxTrackedSessions = 4096
	limiterIdleCutoff  = 10 * time.Minute
)

// RefreshCoordinator serializes refresh-token exchanges. Concurrent
// requests racing on the same expired session coalesce onto a single
// upstream exchange and all receive the winner's result, so the provider
// never sees the same refresh token exchanged twice. The coordinator never
// touches the session store; it returns the new pair for the caller to
// persist.
type RefreshCoordinator struct {
	provider IdentityProvider
	logger   Logger

	mu       sync.Mutex
	inflight map[string]*refreshOperation

	limiterMu sync.Mutex
	limiters  map[string]*sessionLimiter
}

// NewRefreshCoordinator creates a coordinator over the given provider.
func NewRefreshCoordinator(provider IdentityProvider, logger Logger) *RefreshCoordinator {
	if logger == nil {
		logger = GetNoOpLogger()
	}
	return &RefreshCoordinator{
		provider: provider,
		logger:   logger,
		inflight: make(map[string]*refreshOperation),
		limiters: make(map[string]*sessionLimiter),
	}
}

// Refresh exchanges the refresh token for a new pair, coalescing with any
// exchange already in flight for the same token. On success the returned
// pair always carries a usable refresh token: when the provider does not
// rotate it, the input token is kept.
func (rc *RefreshCoordinator) Refresh(ctx context.Context, sessionID, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, &RefreshError{Message: "no refresh token in session"}
	}

	key := hashToken(refreshToken)

	rc.mu.Lock()
	if op, exists := rc.inflight[key]; exists {
		rc.mu.Unlock()
		select {
		case <-op.done:
			rc.logger.Debugf("Joined in-flight refresh for session %s", sessionID)
			return op.pair, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Only the caller starting a fresh exchange consumes rate-limit budget;
	// joining an in-flight one costs nothing.
	if !rc.allowAttempt(sessionID) {
		rc.mu.Unlock()
		rc.logger.Infof("Refresh attempts rate limited for session %s", sessionID)
		return nil, &RefreshError{Message: "refresh attempts exceeded for session"}
	}

	op := &refreshOperation{done: make(chan struct{})}
	rc.inflight[key] = op
	rc.mu.Unlock()

	op.pair, op.err = rc.exchange(ctx, refreshToken)
	close(op.done)

	rc.mu.Lock()
	delete(rc.inflight, key)
	rc.mu.Unlock()

	return op.pair, op.err
}

// exchange performs the single upstream call.
func (rc *RefreshCoordinator) exchange(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := rc.provider.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if pair.RefreshToken == "" {
		// Provider did not rotate the refresh token; keep the current one.
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// allowAttempt applies the per-session rate limit.
func (rc *RefreshCoordinator) allowAttempt(sessionID string) bool {
	rc.limiterMu.Lock()
	defer rc.limiterMu.Unlock()

	if len(rc.limiters) > maxTrackedSessions {
		rc.pruneLimitersLocked()
	}

	entry, ok := rc.limiters[sessionID]
	if !ok {
		entry = &sessionLimiter{
			limiter: rate.NewLimiter(rate.Every(refreshAttemptInterval), refreshAttemptBurst),
		}
		rc.limiters[sessionID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// pruneLimitersLocked drops limiters idle past the cutoff. Caller holds
// limiterMu.
func (rc *RefreshCoordinator) pruneLimitersLocked() {
	cutoff := time.Now().Add(-limiterIdleCutoff)
	for id, entry := range rc.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rc.limiters, id)
		}
	}
}

// hashToken keys in-flight operations without holding raw token material in
// map keys.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
