// Package identity keeps the participant identifier of a browser session and the
// display name a browser last used.
package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Scope is the lifetime of a stored value.
type Scope int

const (
	// ScopeSession values disappear when the browsing session ends.
	ScopeSession Scope = iota
	// ScopePersistent values survive restarts.
	ScopePersistent
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

const (
	participantIDKey = "participantId"
	userNameKey      = "userName"

	idPrefix    = "p_"
	idSuffixLen = 13
	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Storage is a string key/value store of one browser with two lifetimes.
type Storage interface {
	Get(ctx context.Context, scope Scope, key string) (value string, ok bool, err error)
	Set(ctx context.Context, scope Scope, key, value string) error
}

// Backend hands out the Storage of one browser. sessionID identifies the browsing
// session (tab), clientID the browser.
type Backend interface {
	Storage(sessionID, clientID string) Storage
}

// Manager derives the participant identity from Storage.
type Manager struct {
	storage Storage

	mu sync.Mutex
	id string
}

// NewManager creates a Manager over storage.
func NewManager(storage Storage) *Manager {
	return &Manager{storage: storage}
}

// ParticipantID returns the identifier of this session, generating and storing one
// on first use.
func (m *Manager) ParticipantID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id != "" {
		return m.id, nil
	}

	id, ok, err := m.storage.Get(ctx, ScopeSession, participantIDKey)
	if err != nil {
		return "", fmt.Errorf("read participant id: %w", err)
	}
	if !ok || id == "" {
		id, err = NewParticipantID()
		if err != nil {
			return "", err
		}
		if err := m.storage.Set(ctx, ScopeSession, participantIDKey, id); err != nil {
			return "", fmt.Errorf("store participant id: %w", err)
		}
		log.Debug().Str("participant_id", id).Msg("generated participant id")
	}
	m.id = id
	return id, nil
}

// Lookup returns the identifier of this session without creating one.
func (m *Manager) Lookup(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id != "" {
		return m.id, true
	}
	id, ok, err := m.storage.Get(ctx, ScopeSession, participantIDKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read participant id")
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	m.id = id
	return id, true
}

// StoredName returns the remembered display name, or "" when there is none.
func (m *Manager) StoredName(ctx context.Context) string {
	name, ok, err := m.storage.Get(ctx, ScopePersistent, userNameKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read stored name")
		return ""
	}
	if !ok {
		return ""
	}
	return name
}

// RememberName stores the display name for future visits.
func (m *Manager) RememberName(ctx context.Context, name string) error {
	if err := m.storage.Set(ctx, ScopePersistent, userNameKey, name); err != nil {
		return fmt.Errorf("store name: %w", err)
	}
	return nil
}

// NewParticipantID returns "p_" followed by 13 random base-36 characters.
func NewParticipantID() (string, error) {
	var b strings.Builder
	b.Grow(len(idPrefix) + idSuffixLen)
	b.WriteString(idPrefix)

	max := big.NewInt(int64(len(idAlphabet)))
	for range idSuffixLen {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate participant id: %w", err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}
