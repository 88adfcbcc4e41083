package signin_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gelozr/signin/credstore"
	"github.com/gelozr/signin/event"
	"github.com/gelozr/signin/signin"
	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
)

type MockTokenService struct {
	mu sync.Mutex

	signInErr   error
	socialErr   error
	exchangeErr error
	linkErr     error
	recoverErr  error
	otp         string

	// signInHook runs before SignIn returns; its error replaces signInErr.
	signInHook func(ctx context.Context, email string) error

	signIns   []credstore.Credentials
	socials   []string
	links     []tokenservice.SocialProof
	exchanges []tokenservice.IdentityProof
	recovers  []string
}

func (m *MockTokenService) SignIn(ctx context.Context, email, password string) (tokenservice.SignResult, error) {
	m.mu.Lock()
	m.signIns = append(m.signIns, credstore.Credentials{Email: email, Password: password})
	hook, err := m.signInHook, m.signInErr
	m.mu.Unlock()

	if hook != nil {
		err = hook(ctx, email)
	}
	if err != nil {
		return tokenservice.SignResult{}, err
	}
	return tokenservice.SignResult{UserID: "user-1"}, nil
}

func (m *MockTokenService) SocialLogin(ctx context.Context, subjectID string, provider social.Provider) (tokenservice.SignResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.socials = append(m.socials, subjectID)
	if m.socialErr != nil {
		return tokenservice.SignResult{}, m.socialErr
	}
	return tokenservice.SignResult{UserID: "user-1"}, nil
}

func (m *MockTokenService) ExchangeForAccessToken(ctx context.Context, proof tokenservice.IdentityProof) (tokenservice.SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exchanges = append(m.exchanges, proof)
	if m.exchangeErr != nil {
		return tokenservice.SessionToken{}, m.exchangeErr
	}
	return tokenservice.SessionToken{
		AccessToken: fmt.Sprintf("access-%d", len(m.exchanges)),
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (m *MockTokenService) LinkSocialAccount(ctx context.Context, proof tokenservice.SocialProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links = append(m.links, proof)
	return m.linkErr
}

func (m *MockTokenService) RecoverPassword(ctx context.Context, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recovers = append(m.recovers, email)
	if m.recoverErr != nil {
		return "", m.recoverErr
	}
	return m.otp, nil
}

func (m *MockTokenService) set(fn func(m *MockTokenService)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *MockTokenService) calls() (signIns []credstore.Credentials, socials []string, links []tokenservice.SocialProof, exchanges []tokenservice.IdentityProof, recovers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(signIns, m.signIns...), append(socials, m.socials...), append(links, m.links...),
		append(exchanges, m.exchanges...), append(recovers, m.recovers...)
}

type MockStore struct {
	mu sync.Mutex

	deliverErr error

	handler      event.Handler[credstore.Event]
	queryCalls   int
	saved        []credstore.Credentials
	delivered    []string
	unsubscribed bool
}

func (m *MockStore) Subscribe(h event.Handler[credstore.Event]) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribed = true
	}
}

func (m *MockStore) Query(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
}

func (m *MockStore) Save(ctx context.Context, creds credstore.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, creds)
}

func (m *MockStore) DeliverExternalCallback(ctx context.Context, requestID string, outcome credstore.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delivered = append(m.delivered, requestID)
	return m.deliverErr
}

// emit reports evt the way the real store does, from outside the session.
func (m *MockStore) emit(evt credstore.Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		_ = h(context.Background(), evt)
	}
}

func (m *MockStore) queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

func (m *MockStore) saves() []credstore.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]credstore.Credentials(nil), m.saved...)
}

type MockBridge struct {
	mu sync.Mutex

	shouldFail bool

	beginCalled int
	provider    social.Provider
	ctx         context.Context
	done        func(social.Result)
}

func (m *MockBridge) BeginLogin(ctx context.Context, provider social.Provider, done func(social.Result)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.beginCalled++
	if m.shouldFail {
		return "", social.ErrProviderNotFound
	}
	m.provider = provider
	m.ctx = ctx
	m.done = done
	return "https://idp.example/auth?state=s1", nil
}

func (m *MockBridge) finish(res social.Result) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	done(res)
}

type MockLocal struct {
	mu sync.Mutex

	shouldFailClear bool

	clearCalled bool
	saved       []credstore.Credentials
}

func (m *MockLocal) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearCalled = true
	if m.shouldFailClear {
		return fmt.Errorf("disk full")
	}
	return nil
}

func (m *MockLocal) SavePassword(email, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, credstore.Credentials{Email: email, Password: password})
	return nil
}

type sentMail struct {
	email string
	otp   string
}

type MockMailer struct {
	mu sync.Mutex

	err  error
	sent []sentMail
}

func (m *MockMailer) SendPasswordRecoveryEmail(ctx context.Context, email, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{email: email, otp: otp})
	return nil
}

func (m *MockMailer) mails() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type recorder struct {
	mu     sync.Mutex
	events []signin.Event
}

func (r *recorder) handle(_ context.Context, evt signin.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) all() []signin.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signin.Event(nil), r.events...)
}

func eventsOf[T signin.Event](r *recorder) []T {
	var out []T
	for _, evt := range r.all() {
		if v, ok := evt.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// waitFor waits for the nth event of type T and returns it.
func waitFor[T signin.Event](t *testing.T, r *recorder, n int) T {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(eventsOf[T](r)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %T number %d", *new(T), n)

	return eventsOf[T](r)[n-1]
}

type fixture struct {
	o      *signin.Orchestrator
	tokens *MockTokenService
	store  *MockStore
	bridge *MockBridge
	local  *MockLocal
	mailer *MockMailer
	events *recorder
}

func newFixture(t *testing.T, opts ...func(*signin.Config)) *fixture {
	t.Helper()

	f := &fixture{
		tokens: &MockTokenService{otp: "123456"},
		store:  &MockStore{},
		bridge: &MockBridge{},
		local:  &MockLocal{},
		mailer: &MockMailer{},
		events: &recorder{},
	}

	cfg := signin.Config{
		TokenService: f.tokens,
		Store:        f.store,
		Social:       f.bridge,
		Local:        f.local,
		Mailer:       f.mailer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	o, err := signin.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	o.Subscribe(f.events.handle)
	f.o = o
	return f
}

func withoutStore(cfg *signin.Config) {
	cfg.Store = nil
}

// fill sets the form and returns once the session has applied it.
func (f *fixture) fill(t *testing.T, email, password string) {
	t.Helper()
	require.NoError(t, f.o.SetEmail(email))
	require.NoError(t, f.o.SetPassword(password))
}
