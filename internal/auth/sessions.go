package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/cache"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/store"
)

// Session is one opaque login token. Sessions are server-side state so
// disabling an employee revokes access immediately.
type Session struct {
	Token      string      `json:"token"`
	EmployeeID string      `json:"employee_id"`
	Role       models.Role `json:"role"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Expired reports whether the session is past its TTL
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionManager keeps sessions in a JSON file beside the tables,
// fronted by Redis when available. Redis misses fall through to the
// file-backed map, so a cache outage only costs speed.
type SessionManager struct {
	path  string
	ttl   time.Duration
	cache *cache.RedisCache

	mu       sync.Mutex
	sessions map[string]Session
}

// NewSessionManager loads existing sessions from dataDir/sessions.json
func NewSessionManager(dataDir string, ttl time.Duration, redis *cache.RedisCache) (*SessionManager, error) {
	m := &SessionManager{
		path:     filepath.Join(dataDir, "sessions.json"),
		ttl:      ttl,
		cache:    redis,
		sessions: make(map[string]Session),
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Wrap(err, "read sessions file")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.sessions); err != nil {
			return nil, errors.Wrap(err, "decode sessions file")
		}
	}
	return m, nil
}

// Create opens a session for an employee
func (m *SessionManager) Create(ctx context.Context, emp models.Employee) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		Token:      newToken(),
		EmployeeID: emp.ID,
		Role:       emp.Role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[sess.Token] = sess
	err := m.persist()
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	if err := m.cache.Set(ctx, cache.SessionKey(sess.Token), sess, m.ttl); err != nil {
		log.Warn().Err(err).Msg("Failed to cache session")
	}
	return sess, nil
}

// Lookup resolves a token to a live session
func (m *SessionManager) Lookup(ctx context.Context, token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	now := time.Now().UTC()

	var cached Session
	if err := m.cache.Get(ctx, cache.SessionKey(token), &cached); err == nil {
		if !cached.Expired(now) {
			return cached, true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return Session{}, false
	}
	if sess.Expired(now) {
		delete(m.sessions, token)
		if err := m.persist(); err != nil {
			log.Warn().Err(err).Msg("Failed to persist session expiry")
		}
		return Session{}, false
	}
	return sess, true
}

// Destroy ends one session
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	err := m.persist()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, cache.SessionKey(token)); err != nil {
		log.Warn().Err(err).Msg("Failed to evict cached session")
	}
	return nil
}

// RevokeEmployee ends every session belonging to an employee. Called
// when an account is disabled or its password reset.
func (m *SessionManager) RevokeEmployee(ctx context.Context, employeeID string) error {
	m.mu.Lock()
	var evict []string
	for token, sess := range m.sessions {
		if sess.EmployeeID == employeeID {
			delete(m.sessions, token)
			evict = append(evict, cache.SessionKey(token))
		}
	}
	err := m.persist()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, evict...); err != nil {
		log.Warn().Err(err).Msg("Failed to evict cached sessions")
	}
	return nil
}

// Purge drops expired sessions, returning how many were removed
func (m *SessionManager) Purge(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	var evict []string
	for token, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, token)
			evict = append(evict, cache.SessionKey(token))
		}
	}
	if len(evict) == 0 {
		return 0, nil
	}
	if err := m.persist(); err != nil {
		return 0, err
	}
	if err := m.cache.Delete(ctx, evict...); err != nil {
		log.Warn().Err(err).Msg("Failed to evict cached sessions")
	}
	return len(evict), nil
}

// persist writes the session map atomically. Callers hold m.mu.
func (m *SessionManager) persist() error {
	data, err := json.MarshalIndent(m.sessions, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode sessions")
	}
	return store.WriteAtomic(m.path, append(data, '\n'))
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
