// Package session implements the kernel's session store: short-lived,
// storage-backed principals identified by a bearer token, with separate
// TTLs for anonymous and authenticated sessions and a periodic sweep for
// expired entries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrAlreadyBound  = errors.New("session: already bound to a user")
	ErrExpired       = errors.New("session: expired")
)

// Store persists Session objects; it is satisfied by storage.RootStorage
// restricted to the "/session/" subtree, kept as a narrow interface here
// so this package does not import storage directly.
type Store interface {
	Load(ctx context.Context, p path.Path) (*dict.Dict, error)
	Store(ctx context.Context, p path.Path, data *dict.Dict) error
	Remove(ctx context.Context, p path.Path) error
	Query(ctx context.Context, base path.Path) ([]path.Path, error)
}

// Session is one active principal. UserID is empty until BindUser is
// called; a session starts anonymous and may be bound to a user exactly
// once (e.g. on successful login), after which BindUser fails.
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	AccessedAt time.Time
	ExpiresAt  time.Time
	Files      []string // temp files owned by this session, returned by Sweep
	Data       *dict.Dict
}

func (s *Session) path() path.Path {
	return root.Child(s.ID, false)
}

var root = path.Parse("/session/")

// Manager owns the active-session lifecycle: creation, lookup with
// access-time refresh, binding, expiry sweep, and destruction.
type Manager struct {
	store           Store
	mu              sync.Mutex
	ttlAnonymous    time.Duration
	ttlAuthenticated time.Duration
}

// NewManager returns a Manager backed by store, using ttlAnonymous for
// unbound sessions and ttlAuthenticated once BindUser succeeds.
func NewManager(store Store, ttlAnonymous, ttlAuthenticated time.Duration) *Manager {
	return &Manager{store: store, ttlAnonymous: ttlAnonymous, ttlAuthenticated: ttlAuthenticated}
}

// Create starts a new anonymous session with the caller-supplied id.
func (m *Manager) Create(ctx context.Context, id string, now time.Time) (*Session, error) {
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(m.ttlAnonymous),
		Data:       dict.New(),
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get loads session id, refreshing its access time and expiry window
// (rolling TTL from last access), or returns ErrNotFound/ErrExpired.
func (m *Manager) Get(ctx context.Context, id string, now time.Time) (*Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if now.After(s.ExpiresAt) {
		_ = m.Destroy(ctx, id)
		return nil, ErrExpired
	}

	s.AccessedAt = now
	ttl := m.ttlAnonymous
	if s.UserID != "" {
		ttl = m.ttlAuthenticated
	}
	s.ExpiresAt = now.Add(ttl)
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// BindUser attaches userID to a previously anonymous session, extending
// its TTL to the authenticated window. Returns ErrAlreadyBound if the
// session already belongs to a different user; binding the same user
// again is idempotent.
func (m *Manager) BindUser(ctx context.Context, id, userID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != "" && s.UserID != userID {
		return nil, ErrAlreadyBound
	}
	s.UserID = userID
	s.ExpiresAt = now.Add(m.ttlAuthenticated)
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// TrackFile records a temp file path as owned by the session, so Sweep
// returns it when the session expires.
func (m *Manager) TrackFile(ctx context.Context, id, file string, now time.Time) error {
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	s.Files = append(s.Files, file)
	return m.persist(ctx, s)
}

// Destroy removes the session record only. The session's tracked files
// are neither returned nor removed; the store does not touch the
// filesystem.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Remove(ctx, root.Child(id, false))
}

// Sweep removes every session whose ExpiresAt is at or before now and
// returns the files owned by the removed sessions, for the scheduler's
// periodic session-sweep task to unlink.
func (m *Manager) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	paths, err := m.store.Query(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("session: sweep query: %w", err)
	}

	var orphaned []string
	for _, p := range paths {
		data, err := m.store.Load(ctx, p)
		if err != nil {
			continue
		}
		s := fromDict(p.Name(), data)
		if !now.Before(s.ExpiresAt) {
			orphaned = append(orphaned, s.Files...)
			_ = m.store.Remove(ctx, p)
		}
	}
	return orphaned, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	data, err := m.store.Load(ctx, root.Child(id, false))
	if err != nil {
		return nil, ErrNotFound
	}
	return fromDict(id, data), nil
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	return m.store.Store(ctx, s.path(), toDict(s))
}

func toDict(s *Session) *dict.Dict {
	d := dict.New()
	_ = d.Set("id", s.ID)
	_ = d.Set("user", s.UserID)
	_ = d.Set("created", s.CreatedAt)
	_ = d.Set("accessed", s.AccessedAt)
	_ = d.Set("expires", s.ExpiresAt)
	files := make([]any, len(s.Files))
	for i, f := range s.Files {
		files[i] = f
	}
	_ = d.Set("files", files)
	if s.Data != nil {
		_ = d.Set("data", s.Data)
	}
	return d
}

func fromDict(id string, d *dict.Dict) *Session {
	s := &Session{
		ID:         id,
		UserID:     d.GetString("user", ""),
		CreatedAt:  d.GetTime("created", time.Time{}),
		AccessedAt: d.GetTime("accessed", time.Time{}),
		ExpiresAt:  d.GetTime("expires", time.Time{}),
		Data:       d.GetDict("data"),
	}
	for _, f := range d.GetList("files") {
		if str, ok := f.(string); ok {
			s.Files = append(s.Files, str)
		}
	}
	if s.Data == nil {
		s.Data = dict.New()
	}
	return s
}
