package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id has no stored application.
var ErrNotFound = errors.New("session not found")

// Store is the single authority over application state identity.
//
// Error Contract:
// - Get and Delete return an error wrapping ErrNotFound for unknown ids
// - Save persists the current state of an existing or new session
// - Infrastructure failures are returned wrapped with context
type Store interface {
	Create(ctx context.Context) (*State, error)
	Get(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps sessions in a mutex-guarded map for process-lifetime
// retention.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*State)}
}

func (s *MemoryStore) Create(_ context.Context) (*State, error) {
	state := NewState(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state
	return state, nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.sessions[sessionID]; ok {
		return state, nil
	}
	return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
}

func (s *MemoryStore) Save(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	delete(s.sessions, sessionID)
	return nil
}

var _ Store = (*MemoryStore)(nil)

// KeyedMutex serializes turns per session id while leaving distinct sessions
// fully parallel. Entries are retained for the session's lifetime, the same
// retention the stores already accept.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex constructs an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given key, creating it on first use, and
// returns the unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
