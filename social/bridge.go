package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gelozr/signin/log"
)

// Bridge tracks logins between BeginLogin and the provider's redirect back.
type Bridge struct {
	logger log.Logger

	mu        sync.RWMutex
	providers map[Provider]IdentityProvider
	pending   map[string]*login
}

type login struct {
	provider IdentityProvider
	verifier string
	done     func(Result)
	stop     func() bool
}

func NewBridge(logger log.Logger, providers ...IdentityProvider) *Bridge {
	if logger == nil {
		logger = log.Nop()
	}

	b := &Bridge{
		logger:    logger.With("component", "social"),
		providers: make(map[Provider]IdentityProvider),
		pending:   make(map[string]*login),
	}
	for _, p := range providers {
		b.providers[p.Name()] = p
	}
	return b
}

func (b *Bridge) Extend(p IdentityProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers[p.Name()] = p
}

func (b *Bridge) Provider(name Provider) (IdentityProvider, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if p, ok := b.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
}

// VerifyToken resolves token with the named provider and returns the subject
// it was issued for.
func (b *Bridge) VerifyToken(ctx context.Context, provider Provider, token string) (string, error) {
	p, err := b.Provider(provider)
	if err != nil {
		return "", err
	}
	return p.VerifyToken(ctx, token)
}

// BeginLogin starts a login with provider and returns the URL the user must
// open. done is called exactly once: from DeliverCallback, from Abandon, or
// with Cancelled when ctx ends first.
func (b *Bridge) BeginLogin(ctx context.Context, provider Provider, done func(Result)) (string, error) {
	p, err := b.Provider(provider)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	l := &login{
		provider: p,
		verifier: oauth2.GenerateVerifier(),
		done:     done,
	}

	b.mu.Lock()
	b.pending[state] = l
	l.stop = context.AfterFunc(ctx, func() {
		if l := b.take(state); l != nil {
			b.logger.Debug("social login abandoned by context", "provider", provider)
			l.done(Result{Outcome: Cancelled, Identity: Identity{Provider: provider}})
		}
	})
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "social login started", "provider", provider)
	return p.AuthCodeURL(state, l.verifier), nil
}

// DeliverCallback finishes the login named by the "state" parameter of the
// provider's redirect. It blocks for the code exchange.
func (b *Bridge) DeliverCallback(ctx context.Context, query url.Values) error {
	l := b.take(query.Get("state"))
	if l == nil {
		return ErrUnknownState
	}
	l.stop()

	name := l.provider.Name()
	res := Result{Identity: Identity{Provider: name}}

	switch oauthErr := query.Get("error"); {
	case oauthErr == "access_denied":
		res.Outcome = Cancelled
	case oauthErr != "":
		res.Outcome = Failed
		res.Err = fmt.Errorf("%s: %s", oauthErr, query.Get("error_description"))
	case query.Get("code") == "":
		res.Outcome = Failed
		res.Err = errors.New("callback carries no authorization code")
	default:
		id, err := l.provider.Exchange(ctx, query.Get("code"), l.verifier)
		if err != nil {
			res.Outcome = Failed
			res.Err = fmt.Errorf("exchange code: %w", err)
			break
		}
		res.Outcome = TokenObtained
		res.Identity = id
	}

	if res.Err != nil {
		b.logger.WarnContext(ctx, "social login failed", "provider", name, "error", res.Err)
	} else {
		b.logger.InfoContext(ctx, "social login finished", "provider", name, "outcome", res.Outcome)
	}

	l.done(res)
	return nil
}

// Abandon reports a login the user closed without finishing.
func (b *Bridge) Abandon(state string) error {
	l := b.take(state)
	if l == nil {
		return ErrUnknownState
	}
	l.stop()

	l.done(Result{Outcome: Cancelled, Identity: Identity{Provider: l.provider.Name()}})
	return nil
}

// Pending returns the states of logins still waiting for a callback.
func (b *Bridge) Pending() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make([]string, 0, len(b.pending))
	for s := range b.pending {
		states = append(states, s)
	}
	return states
}

func (b *Bridge) take(state string) *login {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.pending[state]
	if !ok {
		return nil
	}
	delete(b.pending, state)
	return l
}
