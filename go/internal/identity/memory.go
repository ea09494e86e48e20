package identity

import (
	"context"
	"sync"
)

// MemoryBackend keeps every browser's storage in process memory.
type MemoryBackend struct {
	mu         sync.Mutex
	session    map[string]map[string]string
	persistent map[string]map[string]string
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		session:    make(map[string]map[string]string),
		persistent: make(map[string]map[string]string),
	}
}

// Storage returns the storage of one browser session.
func (b *MemoryBackend) Storage(sessionID, clientID string) Storage {
	return &memoryStorage{backend: b, sessionID: sessionID, clientID: clientID}
}

// EndSession drops the session scope of sessionID, as closing a tab would.
func (b *MemoryBackend) EndSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.session, sessionID)
}

type memoryStorage struct {
	backend   *MemoryBackend
	sessionID string
	clientID  string
}

// NewMemoryStorage returns storage for a single browser.
func NewMemoryStorage() Storage {
	return NewMemoryBackend().Storage("session", "client")
}

func (s *memoryStorage) bucket(scope Scope, create bool) map[string]string {
	buckets, owner := s.backend.session, s.sessionID
	if scope == ScopePersistent {
		buckets, owner = s.backend.persistent, s.clientID
	}
	m := buckets[owner]
	if m == nil && create {
		m = make(map[string]string)
		buckets[owner] = m
	}
	return m
}

func (s *memoryStorage) Get(_ context.Context, scope Scope, key string) (string, bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	v, ok := s.bucket(scope, false)[key]
	return v, ok, nil
}

func (s *memoryStorage) Set(_ context.Context, scope Scope, key, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.bucket(scope, true)[key] = value
	return nil
}
