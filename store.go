package portalauth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Key namespaces within the session store. The ephemeral values (CSRF state,
// intended redirect) share the backing store with session records under
// separate prefixes and shorter TTLs.
const (
	sessionKeyPrefix  = "session:"
	stateKeyPrefix    = "state:"
	redirectKeyPrefix = "redirect:"
)

// SessionStore is the narrow keyed-store interface the session lifecycle
// depends on. Backends must honour per-key TTLs; no cross-key ordering is
// required. Implementations include MemoryStore and RedisStore.
type SessionStore interface {
	// Get retrieves the value for key. The second return value is false
	// when the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL, replacing any previous
	// value. A zero TTL stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// SessionRecord is the server-side authentication state for one browser
// session. It is keyed by SessionID; the browser cookie carries only that
// id. A record being retrievable is what "authenticated" means.
type SessionRecord struct {
	SessionID      string   `json:"sessionId"`
	SubjectID      string   `json:"subjectId"`
	DisplayName    string   `json:"displayName"`
	OrganisationID string   `json:"organisationId"`
	Role           string   `json:"role"`
	Scope          []string `json:"scope,omitempty"`
	AccessToken    string   `json:"accessToken"`
	RefreshToken   string   `json:"refreshToken"`
	IssuedAt       int64    `json:"issuedAt"`
}

// encodeSessionRecord serializes a record for storage.
func encodeSessionRecord(rec *SessionRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}
	return data, nil
}

// decodeSessionRecord deserializes a stored record.
func decodeSessionRecord(data []byte) (*SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &rec, nil
}

// memoryItem is a stored value with its expiry deadline.
type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process SessionStore with per-key TTLs. It is
// intended for development and tests; production deployments use
// RedisStore so sessions survive restarts and are shared across instances.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
	}
}

// Get retrieves a value, expiring it lazily if its deadline has passed.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock: the key may have been replaced.
		if cur, ok := m.items[key]; ok && !cur.expiresAt.IsZero() && time.Now().After(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// Set stores a value with the given TTL.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	item := memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored items, including any not yet lazily
// expired.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
