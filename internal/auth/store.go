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

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// FileStore keeps all users in one JSON array file. The whole file is read
// for every operation and rewritten on every mutation; the mutex serializes
// access within the process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file and its directory
// are created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, mu: sync.Mutex{}}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Users returns a snapshot of all stored users.
func (s *FileStore) Users() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

// Mutate loads the users, applies fn and writes the result back. Nothing is
// written when fn returns an error.
func (s *FileStore) Mutate(fn func(users []User) ([]User, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.read()
	if err != nil {
		return err
	}

	updated, err := fn(users)
	if err != nil {
		return err
	}

	return s.write(updated)
}

func (s *FileStore) read() ([]User, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []User{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read users file %s: %w", s.path, err)
	}

	var users []User

	err = json.Unmarshal(data, &users)
	if err != nil {
		return nil, fmt.Errorf("failed to parse users file %s: %w", s.path, err)
	}

	if users == nil {
		users = []User{}
	}

	return users, nil
}

func (s *FileStore) write(users []User) error {
	err := os.MkdirAll(filepath.Dir(s.path), dirMode)
	if err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}

	err = os.WriteFile(s.path, data, fileMode)
	if err != nil {
		return fmt.Errorf("failed to save user data: %w", err)
	}

	return nil
}
