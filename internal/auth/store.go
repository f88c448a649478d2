package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Tokens is an access/refresh pair as returned by the token endpoint.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Store holds the current tokens. When created with a path, tokens are
// persisted to that file and reloaded on start.
type Store struct {
	path string

	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore(initial Tokens) *Store {
	return &Store{tokens: initial}
}

// NewFileStore returns a store backed by path. A missing file is an empty
// store.
func NewFileStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return s, nil
}

// Tokens returns the current pair.
func (s *Store) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Access returns the current access token.
func (s *Store) Access() string {
	return s.Tokens().Access
}

// Set replaces the tokens. An empty refresh token keeps the previous one.
func (s *Store) Set(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Refresh == "" {
		t.Refresh = s.tokens.Refresh
	}
	s.tokens = t
	return s.persist()
}

// Clear forgets both tokens.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = Tokens{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// persist writes the tokens atomically. Caller holds s.mu.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
