// Package prefs keeps the last signed-in email and a verifier of its
// password in a small YAML file.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gelozr/signin/hash"
)

var ErrNotFound = errors.New("no saved login")

type Config struct {
	Path string `yaml:"path" env:"SIGNIN_PREFS_PATH" env-default:"./signin-prefs.yaml"`
}

// Login is the saved record. The password itself is never stored.
type Login struct {
	Email        string    `yaml:"email"`
	PasswordHash string    `yaml:"password_hash"`
	SavedAt      time.Time `yaml:"saved_at"`
}

type Store struct {
	path   string
	hasher *hash.Manager
	now    func() time.Time

	mu sync.Mutex
}

func New(path string, hasher *hash.Manager) *Store {
	return &Store{path: path, hasher: hasher, now: time.Now}
}

// Clear removes any saved login. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear prefs: %w", err)
	}
	return nil
}

func (s *Store) SavePassword(email, password string) error {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	data, err := yaml.Marshal(Login{Email: email, PasswordHash: passwordHash, SavedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

func (s *Store) Load() (Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Login{}, ErrNotFound
	}
	if err != nil {
		return Login{}, fmt.Errorf("read prefs: %w", err)
	}

	var l Login
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Login{}, fmt.Errorf("decode prefs: %w", err)
	}
	return l, nil
}

// Verify reports whether email and password match the saved login.
func (s *Store) Verify(email, password string) (bool, error) {
	l, err := s.Load()
	if err != nil {
		return false, err
	}
	if l.Email != email {
		return false, nil
	}
	return s.hasher.Check(password, l.PasswordHash)
}
