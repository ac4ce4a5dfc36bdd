package portalauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// generateSecureRandomString creates a cryptographically secure random
// string of length hex characters from length random bytes.
func generateSecureRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// stateLength is the number of random bytes in a CSRF state value. 32 bytes
// gives 256 bits of entropy.
const stateLength = 32

// StateManager issues and consumes single-use CSRF state values. Each value
// is keyed to a browser session in the ephemeral store and is burned on
// first validation attempt, match or mismatch, so a second presentation of
// the same value always fails.
type StateManager struct {
	store  SessionStore
	ttl    time.Duration
	logger Logger
}

// NewStateManager creates a state manager over the given ephemeral store.
func NewStateManager(store SessionStore, ttl time.Duration, logger Logger) *StateManager {
	if logger == nil {
		logger = GetNoOpLogger()
	}
	return &StateManager{store: store, ttl: ttl, logger: logger}
}

// Issue generates a fresh state value for the session key, replacing any
// previously issued value.
func (s *StateManager) Issue(ctx context.Context, sessionKey string) (string, error) {
	state, err := generateSecureRandomString(stateLength)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, stateKeyPrefix+sessionKey, []byte(state), s.ttl); err != nil {
		return "", fmt.Errorf("failed to store state value: %w", err)
	}
	return state, nil
}

// Consume validates a state value against the one issued for the session
// key. The stored value is deleted before comparison, so the lookup and the
// burn are one logical operation: missing value, mismatch, and store errors
// all return false, and no value survives a validation attempt.
func (s *StateManager) Consume(ctx context.Context, sessionKey, state string) bool {
	key := stateKeyPrefix + sessionKey

	stored, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Errorf("State lookup failed for session key: %v", err)
		return false
	}
	if !ok {
		s.logger.Debug("No state value found for session key")
		return false
	}

	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Errorf("Failed to burn state value: %v", err)
		return false
	}

	if state == "" {
		return false
	}
	return subtle.ConstantTimeCompare(stored, []byte(state)) == 1
}
