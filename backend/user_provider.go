package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gelozr/signin/hash"
)

type MemoryUserProvider struct {
	hasher *hash.Manager

	mu     sync.RWMutex
	users  map[string]*User
	social map[SocialCredentials]string
}

var _ UserProvider = (*MemoryUserProvider)(nil)

func NewMemoryUserProvider(hasher *hash.Manager) *MemoryUserProvider {
	return &MemoryUserProvider{
		hasher: hasher,
		users:  make(map[string]*User),
		social: make(map[SocialCredentials]string),
	}
}

func (p *MemoryUserProvider) FindByCredentials(ctx context.Context, creds PasswordCredentials) (*User, error) {
	u, err := p.GetByEmail(ctx, creds.Email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	ok, err := p.hasher.Check(creds.Password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return nil, ErrIncorrectPassword
	}

	return u, nil
}

func (p *MemoryUserProvider) FindBySocial(ctx context.Context, creds SocialCredentials) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	email, ok := p.social[creds]
	if !ok {
		return nil, ErrSocialNotLinked
	}
	return p.get(email)
}

func (p *MemoryUserProvider) GetByEmail(ctx context.Context, email string) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.get(email)
}

func (p *MemoryUserProvider) GetByID(ctx context.Context, id string) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, u := range p.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (p *MemoryUserProvider) Register(ctx context.Context, email, password string) (*User, error) {
	passwordHash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	secret, err := newRecoverySecret(email)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeEmail(email)
	if _, ok := p.users[key]; ok {
		return nil, ErrUserAlreadyExists
	}

	u := &User{
		ID:             uuid.NewString(),
		Email:          key,
		PasswordHash:   passwordHash,
		RecoverySecret: secret,
	}
	p.users[key] = u

	cp := *u
	return &cp, nil
}

func (p *MemoryUserProvider) LinkSocial(ctx context.Context, userID string, creds SocialCredentials) error {
	u, err := p.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if email, ok := p.social[creds]; ok && email != u.Email {
		return ErrSocialLinkTaken
	}
	p.social[creds] = u.Email
	return nil
}

func (p *MemoryUserProvider) SetPassword(ctx context.Context, email, password string) error {
	passwordHash, err := p.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return p.update(email, func(u *User) { u.PasswordHash = passwordHash })
}

func (p *MemoryUserProvider) SetLocked(ctx context.Context, email string, locked bool) error {
	return p.update(email, func(u *User) { u.Locked = locked })
}

func (p *MemoryUserProvider) update(email string, fn func(*User)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[normalizeEmail(email)]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

// get must be called with p.mu held.
func (p *MemoryUserProvider) get(email string) (*User, error) {
	if u, ok := p.users[normalizeEmail(email)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
