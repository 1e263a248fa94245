// Package auth provides the bearer credential used to open realtime connections.
//
// Credentials live in a small YAML key/value file on disk, the client-side
// equivalent of persisted browser storage.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTokenKey is the key the access token is stored under.
const DefaultTokenKey = "access_token"

// ErrKeyRequired is returned when a key is empty.
var ErrKeyRequired = errors.New("key is required")

// FileStore is a persisted key/value store backed by a YAML file.
// A missing file is an empty store.
type FileStore struct {
	path     string
	tokenKey string

	mu sync.Mutex
}

// OpenFileStore returns a store for path. tokenKey selects the entry read
// by Token; empty means DefaultTokenKey.
func OpenFileStore(path, tokenKey string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if tokenKey == "" {
		tokenKey = DefaultTokenKey
	}
	return &FileStore{path: expandHome(path), tokenKey: tokenKey}, nil
}

// Path returns the resolved file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores value under key and persists the file.
func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

// Token returns the stored access token, or "" if none is stored.
func (s *FileStore) Token() (string, error) {
	token, _, err := s.Get(s.tokenKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores the access token.
func (s *FileStore) SetToken(token string) error {
	return s.Set(s.tokenKey, strings.TrimSpace(token))
}

// load reads the file. Must be called with lock held.
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse store yaml: %w", err)
	}
	return values, nil
}

// save writes the file atomically. Must be called with lock held.
func (s *FileStore) save(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode store yaml: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// EnvToken reads the credential from an environment variable.
type EnvToken string

func (e EnvToken) Token() (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}
