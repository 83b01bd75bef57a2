package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"brightcart/internal/models"
)

// Storage keys for the two persisted credential values.
const (
	tokenKey   = "brightcart_token"
	profileKey = "brightcart_profile"
)

// CredentialStore is the durable store the client reads its bearer token
// and cached user profile from. Both values are written at login and
// cleared together on logout or on any unauthorized response.
type CredentialStore interface {
	Token() (string, bool)
	SetToken(token string) error
	Profile() (models.User, bool)
	SetProfile(user models.User) error
	Clear() error
}

// MemoryStore is an in-process CredentialStore holding the token and the
// serialized profile under the same two string keys the durable stores
// use. It backs tests and short-lived tools.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.values[tokenKey]
	return token, ok && token != ""
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[tokenKey] = token
	return nil
}

func (s *MemoryStore) Profile() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	serialized, ok := s.values[profileKey]
	if !ok || serialized == "" {
		return models.User{}, false
	}
	var user models.User
	if err := json.Unmarshal([]byte(serialized), &user); err != nil {
		return models.User{}, false
	}
	return user, true
}

func (s *MemoryStore) SetProfile(user models.User) error {
	serialized, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[profileKey] = string(serialized)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, tokenKey)
	delete(s.values, profileKey)
	return nil
}

// FileStore persists credentials as a JSON document on disk so a session
// survives process restarts. Writes go through a temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileStoreDocument struct {
	Token   string       `json:"brightcart_token,omitempty"`
	Profile *models.User `json:"brightcart_profile,omitempty"`
}

// NewFileStore returns a credential store backed by the file at path. The
// parent directory is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil || doc.Token == "" {
		return "", false
	}
	return doc.Token, true
}

func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Token = token
	return s.save(doc)
}

func (s *FileStore) Profile() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil || doc.Profile == nil {
		return models.User{}, false
	}
	return *doc.Profile, true
}

func (s *FileStore) SetProfile(user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	copied := user
	doc.Profile = &copied
	return s.save(doc)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *FileStore) load() (fileStoreDocument, error) {
	var doc fileStoreDocument
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fileStoreDocument{}, fmt.Errorf("decode credentials: %w", err)
	}
	return doc, nil
}

func (s *FileStore) save(doc fileStoreDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}
