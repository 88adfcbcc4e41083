package hash

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHasherNotFound = errors.New("hasher not found")
	ErrUnknownFormat  = errors.New("unknown hash format")
)

type Method string

const (
	Bcrypt   Method = "bcrypt"
	Argon2ID Method = "argon2id"
)

// Hasher performs one-way password hashing and verification.
type Hasher interface {
	Hash(password string) (string, error)
	Check(password, hash string) (bool, error)
}

// Manager hashes with a default Method and verifies any hash whose format it
// recognises, so stored hashes keep verifying after the default changes.
type Manager struct {
	mu            sync.RWMutex
	hashers       map[Method]Hasher
	defaultHasher Method
}

// New returns a Manager with Bcrypt and Argon2ID registered and def as the
// hashing Method.
func New(def Method) (*Manager, error) {
	m := &Manager{
		hashers: map[Method]Hasher{
			Bcrypt:   BcryptHasher{},
			Argon2ID: Argon2IDHasher{},
		},
	}

	if err := m.SetDefault(def); err != nil {
		return nil, err
	}

	return m, nil
}

// Hash generates a password hash using the default Method.
func (m *Manager) Hash(password string) (string, error) {
	m.mu.RLock()
	h := m.hashers[m.defaultHasher]
	m.mu.RUnlock()

	return h.Hash(password)
}

// Check verifies password against hash using the Method identified from the
// hash itself, falling back to the default Method for unrecognised formats.
func (m *Manager) Check(password, hash string) (bool, error) {
	mt, err := Identify(hash)
	if err != nil {
		m.mu.RLock()
		mt = m.defaultHasher
		m.mu.RUnlock()
	}

	h, err := m.Hasher(mt)
	if err != nil {
		return false, err
	}

	return h.Check(password, hash)
}

// Hasher looks up a Hasher by Method. Returns ErrHasherNotFound if missing.
func (m *Manager) Hasher(mt Method) (Hasher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if hasher, ok := m.hashers[mt]; ok {
		return hasher, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrHasherNotFound, mt)
}

// Extend registers a new Hasher under the given Method, overwriting if existing.
func (m *Manager) Extend(mt Method, hasher Hasher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hashers[mt] = hasher
}

// SetDefault changes the Method used by Hash.
func (m *Manager) SetDefault(mt Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.hashers[mt]; !ok {
		return fmt.Errorf("%w: %s", ErrHasherNotFound, mt)
	}

	m.defaultHasher = mt
	return nil
}

// Identify reports which built-in Method produced hash.
func Identify(hash string) (Method, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return Argon2ID, nil
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return Bcrypt, nil
	}
	return "", ErrUnknownFormat
}

// BcryptHasher implements Hasher using the bcrypt algorithm. A zero Cost
// means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

var _ Hasher = BcryptHasher{}

func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(bytes), nil
}

func (BcryptHasher) Check(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("bcrypt compare password hash: %w", err)
		}
	}

	return true, nil
}

// Argon2IDHasher implements Hasher using argon2id. Nil Params means
// argon2id.DefaultParams.
type Argon2IDHasher struct {
	Params *argon2id.Params
}

var _ Hasher = Argon2IDHasher{}

func (a Argon2IDHasher) Hash(password string) (string, error) {
	params := a.Params
	if params == nil {
		params = argon2id.DefaultParams
	}

	s, err := argon2id.CreateHash(password, params)
	if err != nil {
		return "", fmt.Errorf("argon hash: %w", err)
	}
	return s, nil
}

func (Argon2IDHasher) Check(password, hash string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("argon compare password hash: %w", err)
	}
	return ok, nil
}
