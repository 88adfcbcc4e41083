// Package signin orchestrates a sign-in session: form and social login, the
// credential store, token exchange and password recovery.
//
// All session state is owned by a single goroutine. Public methods and the
// results of background work are handed to it as closures, so the state is
// never touched concurrently and results of superseded attempts are dropped
// in one place. Outputs are reported as Events on a bus.
package signin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gelozr/signin/credstore"
	"github.com/gelozr/signin/event"
	"github.com/gelozr/signin/log"
	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
	"github.com/gelozr/signin/validate"
)

type Credentials = credstore.Credentials

type TokenService interface {
	SignIn(ctx context.Context, email, password string) (tokenservice.SignResult, error)
	SocialLogin(ctx context.Context, subjectID string, provider social.Provider) (tokenservice.SignResult, error)
	ExchangeForAccessToken(ctx context.Context, proof tokenservice.IdentityProof) (tokenservice.SessionToken, error)
	LinkSocialAccount(ctx context.Context, proof tokenservice.SocialProof) error
	RecoverPassword(ctx context.Context, email string) (string, error)
}

// CredentialStore reports its results asynchronously through Subscribe.
type CredentialStore interface {
	Subscribe(h event.Handler[credstore.Event]) (unsubscribe func())
	Query(ctx context.Context)
	Save(ctx context.Context, creds Credentials)
	DeliverExternalCallback(ctx context.Context, requestID string, outcome credstore.Outcome) error
}

type SocialBridge interface {
	BeginLogin(ctx context.Context, provider social.Provider, done func(social.Result)) (string, error)
}

// LocalStore keeps the last signed-in login on this device.
type LocalStore interface {
	Clear() error
	SavePassword(email, password string) error
}

type RecoveryMailer interface {
	SendPasswordRecoveryEmail(ctx context.Context, email, otp string) error
}

type Validator interface {
	Validate(kind validate.Kind, value string) error
}

type Config struct {
	TokenService TokenService

	// Store is optional. Without it the store side of the session is
	// complete as soon as the session starts.
	Store     CredentialStore
	Social    SocialBridge
	Local     LocalStore
	Mailer    RecoveryMailer
	Validator Validator
	Logger    log.Logger

	// Email and Password prefill the form. Start submits it when both are
	// set.
	Email    string
	Password string

	Now func() time.Time
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseValidationFailed
	PhaseAuthenticating
	PhaseTokenExchanging
	PhaseSignedIn
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseValidationFailed:
		return "validation_failed"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseTokenExchanging:
		return "token_exchanging"
	case PhaseSignedIn:
		return "signed_in"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// SocialToken is the identity obtained from the last social login. Approved
// is set once it has been linked to a user.
type SocialToken struct {
	Provider  social.Provider
	SubjectID string
	Token     string
	Approved  bool
}

// State is a copy of the session state.
type State struct {
	Phase           Phase
	Email           string
	Password        string
	ValidationError *ValidationError
	SocialToken     *SocialToken
	Session         *tokenservice.SessionToken
	SignedInAt      time.Time
	StoredAt        time.Time
	Busy            bool
}

type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	busy   bool
}

type Orchestrator struct {
	tokens    TokenService
	store     CredentialStore
	bridge    SocialBridge
	local     LocalStore
	mailer    RecoveryMailer
	validator Validator
	logger    log.Logger
	now       func() time.Time
	bus       *event.Bus[Event]

	ctx    context.Context
	cancel context.CancelFunc

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup

	// Owned by the loop goroutine.
	started     bool
	closed      bool
	phase       Phase
	creds       Credentials
	verr        *ValidationError
	socialToken *SocialToken
	session     *tokenservice.SessionToken
	join        join
	seq         uint64
	cur         *attempt
	busy        int
	unsubscribe func()
	prefill     Credentials
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.TokenService == nil {
		return nil, errors.New("signin: token service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.Validator{MinPasswordLength: validate.DefaultMinPasswordLength}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		tokens:    cfg.TokenService,
		store:     cfg.Store,
		bridge:    cfg.Social,
		local:     cfg.Local,
		mailer:    cfg.Mailer,
		validator: cfg.Validator,
		logger:    cfg.Logger.With("component", "signin"),
		now:       cfg.Now,
		bus:       event.NewBus[Event](cfg.Logger),
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func()),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		prefill:   Credentials{Email: cfg.Email, Password: cfg.Password},
	}

	if o.store != nil {
		o.unsubscribe = o.store.Subscribe(func(_ context.Context, evt credstore.Event) error {
			o.post(func() { o.onStoreEvent(evt) })
			return nil
		})
	}

	go o.loop()
	return o, nil
}

// Subscribe registers h for every event. h runs on the session goroutine and
// must not call back into the Orchestrator; use SubscribeAsync for that.
func (o *Orchestrator) Subscribe(h event.Handler[Event]) (unsubscribe func()) {
	return o.bus.Subscribe(h)
}

func (o *Orchestrator) SubscribeAsync(h event.Handler[Event]) (unsubscribe func()) {
	return o.bus.SubscribeAsync(h)
}

// Start begins the session: it forgets the previously saved local login,
// queries the credential store and submits the prefilled form if complete.
func (o *Orchestrator) Start() error {
	var err error
	if derr := o.do(func() { err = o.start() }); derr != nil {
		return derr
	}
	return err
}

func (o *Orchestrator) SetEmail(email string) error {
	return o.do(func() { o.creds.Email = email })
}

func (o *Orchestrator) SetPassword(password string) error {
	return o.do(func() { o.creds.Password = password })
}

// SubmitForm validates the form and signs in with it. It supersedes any
// attempt in flight.
func (o *Orchestrator) SubmitForm() error {
	return o.do(o.submitForm)
}

// SubmitSocial starts a social login with provider. It supersedes any
// attempt in flight. The authorization URL is reported as SocialRedirect.
func (o *Orchestrator) SubmitSocial(provider social.Provider) error {
	return o.do(func() { o.submitSocial(provider) })
}

// ForgotPassword asks the backend for a one-time password for the form's
// email and mails it.
func (o *Orchestrator) ForgotPassword() error {
	return o.do(o.forgotPassword)
}

// DeliverResolution hands the outcome of a platform resolution flow to the
// credential store.
func (o *Orchestrator) DeliverResolution(ctx context.Context, requestID string, outcome credstore.Outcome) error {
	var err error
	if derr := o.do(func() {
		if o.store == nil {
			err = ErrNoCredentialStore
			return
		}
		err = o.store.DeliverExternalCallback(ctx, requestID, outcome)
	}); derr != nil {
		return derr
	}
	return err
}

func (o *Orchestrator) Snapshot() (State, error) {
	var s State
	err := o.do(func() { s = o.snapshot() })
	return s, err
}

// Close cancels the work in flight and stops the session. Results arriving
// afterwards are discarded. Close is safe to call more than once.
func (o *Orchestrator) Close() error {
	_ = o.do(o.shutdown)
	o.closeOnce.Do(func() { close(o.done) })
	<-o.stopped
	o.workers.Wait()
	return nil
}

func (o *Orchestrator) loop() {
	defer close(o.stopped)

	for {
		select {
		case fn := <-o.ops:
			fn()
			if o.closed {
				return
			}
		case <-o.done:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (o *Orchestrator) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case o.ops <- func() { defer close(ran); fn() }:
	case <-o.done:
		return ErrClosed
	case <-o.stopped:
		return ErrClosed
	}
	<-ran
	return nil
}

// post queues fn on the session goroutine without waiting for it to run.
// It is dropped once the session is closed.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.done:
	case <-o.stopped:
	}
}

// async runs work off the session goroutine and applies its continuation on
// it. Continuations of an attempt that is no longer current are dropped.
func (o *Orchestrator) async(a *attempt, work func(ctx context.Context) func()) {
	ctx := o.ctx
	if a != nil {
		ctx = a.ctx
	}

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()

		cont := work(ctx)
		o.post(func() {
			if a != nil && o.cur != a {
				o.logger.Debug("dropping result of superseded attempt", "attempt", a.id)
				return
			}
			cont()
		})
	}()
}

func (o *Orchestrator) shutdown() {
	o.closed = true
	if o.cur != nil {
		o.cur.cancel()
	}
	o.cancel()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.logger.Debug("sign-in session closed")
}

func (o *Orchestrator) start() error {
	if o.started {
		return ErrAlreadyStarted
	}
	o.started = true

	if o.local != nil {
		if err := o.local.Clear(); err != nil {
			o.logger.Warn("could not clear saved login", "error", err)
		}
	}

	if o.store != nil {
		o.store.Query(o.ctx)
	} else {
		o.markStored()
	}

	if o.prefill.Email != "" {
		o.creds.Email = o.prefill.Email
	}
	if o.prefill.Password != "" {
		o.creds.Password = o.prefill.Password
	}
	if o.prefill.Email != "" && o.prefill.Password != "" {
		o.submitForm()
	}
	return nil
}

func (o *Orchestrator) beginAttempt() *attempt {
	if o.cur != nil {
		o.cur.cancel()
		o.idle(o.cur)
	}

	o.seq++
	ctx, cancel := context.WithCancel(o.ctx)
	o.cur = &attempt{id: o.seq, ctx: ctx, cancel: cancel}
	o.session = nil
	o.join.resetSignIn()
	return o.cur
}

func (o *Orchestrator) submitForm() {
	a := o.beginAttempt()
	o.setPhase(PhaseValidating)

	if !o.validateForm() {
		o.setPhase(PhaseValidationFailed)
		o.emit(ValidationFailed{Error: *o.verr})
		return
	}

	o.signIn(a, nil)
}

// validateForm checks email then password. When both fail the password
// error is the one kept.
// validateForm checks the form as it will be sent. The email is trimmed first.
func (o *Orchestrator) validateForm() bool {
	o.verr = nil
	o.creds.Email = strings.TrimSpace(o.creds.Email)
	if err := o.validator.Validate(validate.Email, o.creds.Email); err != nil {
		o.verr = &ValidationError{Field: FieldEmail, Err: err}
	}
	if err := o.validator.Validate(validate.Password, o.creds.Password); err != nil {
		o.verr = &ValidationError{Field: FieldPassword, Err: err}
	}
	return o.verr == nil
}

func (o *Orchestrator) submitSocial(provider social.Provider) {
	a := o.beginAttempt()
	o.verr = nil

	if o.bridge == nil {
		o.fail(a, fmt.Errorf("%w: social login is not configured", ErrSocialLoginFailed))
		return
	}

	o.setPhase(PhaseAuthenticating)
	o.busyOn(a)

	url, err := o.bridge.BeginLogin(a.ctx, provider, func(res social.Result) {
		// The bridge may report from anywhere, including from inside a
		// subscriber running on the session goroutine.
		go o.post(func() {
			if o.cur != a {
				return
			}
			o.onSocialResult(a, res)
		})
	})
	if err != nil {
		o.fail(a, fmt.Errorf("%w: %w", ErrSocialLoginFailed, err))
		return
	}

	o.emit(SocialRedirect{Provider: provider, URL: url})
}

func (o *Orchestrator) onSocialResult(a *attempt, res social.Result) {
	switch res.Outcome {
	case social.TokenObtained:
		o.socialToken = &SocialToken{
			Provider:  res.Provider,
			SubjectID: res.SubjectID,
			Token:     res.Token,
		}
		o.signIn(a, o.socialToken)
	case social.Cancelled:
		o.fail(a, ErrSocialLoginCancelled)
	default:
		err := res.Err
		if err == nil {
			err = errors.New(res.Outcome.String())
		}
		o.fail(a, fmt.Errorf("%w: %w", ErrSocialLoginFailed, err))
	}
}

// signIn authenticates with tok when set, otherwise with the form.
func (o *Orchestrator) signIn(a *attempt, tok *SocialToken) {
	o.setPhase(PhaseAuthenticating)
	o.busyOn(a)

	creds := o.creds
	o.async(a, func(ctx context.Context) func() {
		var (
			res tokenservice.SignResult
			err error
		)
		if tok != nil {
			res, err = o.tokens.SocialLogin(ctx, tok.SubjectID, tok.Provider)
		} else {
			res, err = o.tokens.SignIn(ctx, creds.Email, creds.Password)
		}
		return func() { o.onSignIn(a, tok, creds, res, err) }
	})
}

func (o *Orchestrator) onSignIn(a *attempt, tok *SocialToken, creds Credentials, res tokenservice.SignResult, err error) {
	if err != nil {
		switch {
		case errors.Is(err, tokenservice.ErrInvalidCredentials) && tok != nil:
			tok.Approved = false
			o.fail(a, &SocialAccountNotLinkedError{Provider: tok.Provider})
		case errors.Is(err, tokenservice.ErrInvalidCredentials):
			o.fail(a, ErrCredentialsRejected)
		default:
			o.fail(a, fmt.Errorf("%w: %w", ErrSignInFailed, err))
		}
		return
	}

	o.logger.Info("signed in", "user_id", res.UserID, "social", tok != nil)

	if creds.Password != "" {
		email := creds.Email
		if res.Email != "" {
			email = res.Email
		}
		if o.local != nil {
			if err := o.local.SavePassword(email, creds.Password); err != nil {
				o.logger.Warn("could not save login locally", "error", err)
			}
		}
		if o.store != nil {
			o.store.Save(o.ctx, Credentials{Email: email, Password: creds.Password})
		}
	}

	proof := tokenservice.IdentityProof{Email: creds.Email, Password: creds.Password}
	var link *tokenservice.SocialProof
	if st := o.socialToken; st != nil {
		sp := tokenservice.SocialProof{Provider: st.Provider, SubjectID: st.SubjectID, Token: st.Token}
		if !st.Approved {
			link = &sp
			st.Approved = true
		}
		proof = tokenservice.IdentityProof{Social: &sp}
	}

	o.setPhase(PhaseTokenExchanging)
	o.async(a, func(ctx context.Context) func() {
		if link != nil {
			if err := o.tokens.LinkSocialAccount(ctx, *link); err != nil {
				o.logger.Warn("could not link social account", "provider", link.Provider, "error", err)
			}
		}
		sess, err := o.tokens.ExchangeForAccessToken(ctx, proof)
		return func() { o.onTokenExchangeComplete(a, sess, err) }
	})
}

func (o *Orchestrator) onTokenExchangeComplete(a *attempt, sess tokenservice.SessionToken, err error) {
	if err != nil {
		o.fail(a, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err))
		return
	}

	o.idle(a)
	o.session = &sess
	o.join.markSignedIn(o.now())
	o.setPhase(PhaseSignedIn)
	o.evaluate()
}

func (o *Orchestrator) onStoreEvent(evt credstore.Event) {
	o.logger.Debug("credential store event", "kind", evt.Kind, "op", evt.Op)

	switch evt.Kind {
	case credstore.KindFound:
		o.creds = evt.Credentials
		o.emit(CredentialsFilled{Credentials: evt.Credentials})
		o.markStored()
		o.submitForm()
	case credstore.KindNeedsResolution:
		o.emit(ResolutionRequested{RequestID: evt.RequestID, Op: evt.Op, Accounts: evt.Accounts})
	case credstore.KindSaved:
		o.markStored()
	case credstore.KindUnavailable:
		o.markStored()
	case credstore.KindFailed:
		if !errors.Is(evt.Err, credstore.ErrResolutionDenied) && !errors.Is(evt.Err, credstore.ErrNotConfigured) {
			o.emit(Notice{Err: fmt.Errorf("%w: %w", ErrCredentialStoreFailed, evt.Err)})
		}
		o.markStored()
	}
}

func (o *Orchestrator) markStored() {
	o.join.markStored(o.now())
	o.evaluate()
}

// evaluate reports Ready whenever both marks are set. Each mark transition
// reports again.
func (o *Orchestrator) evaluate() {
	if !o.join.ready() || o.session == nil {
		return
	}
	o.setPhase(PhaseReady)
	o.emit(Ready{CompletedAt: o.now(), Token: *o.session})
}

func (o *Orchestrator) forgotPassword() {
	o.verr = nil
	o.creds.Email = strings.TrimSpace(o.creds.Email)
	email := o.creds.Email
	if err := o.validator.Validate(validate.Email, email); err != nil {
		o.verr = &ValidationError{Field: FieldForgotEmail, Err: err}
		o.emit(ValidationFailed{Error: *o.verr})
		return
	}

	o.busyUp()
	o.async(nil, func(ctx context.Context) func() {
		otp, err := o.tokens.RecoverPassword(ctx, email)
		return func() { o.onRecoveryIssued(email, otp, err) }
	})
}

func (o *Orchestrator) onRecoveryIssued(email, otp string, err error) {
	if err != nil {
		o.busyDown()

		var apiErr *tokenservice.APIError
		if errors.As(err, &apiErr) && apiErr.Code == tokenservice.CodeAdminLocked {
			o.emit(Notice{Err: &RecoveryLockedError{Code: apiErr.Code}})
			return
		}
		o.emit(Notice{Err: fmt.Errorf("%w: %w", ErrRecoveryFailed, err)})
		return
	}

	o.creds.Password = ""
	o.emit(PasswordCleared{})

	if o.mailer == nil {
		o.busyDown()
		o.emit(Notice{Err: fmt.Errorf("%w: no mailer configured", ErrRecoveryFailed)})
		return
	}

	o.async(nil, func(ctx context.Context) func() {
		err := o.mailer.SendPasswordRecoveryEmail(ctx, email, otp)
		return func() {
			o.busyDown()
			if err != nil {
				o.emit(Notice{Err: fmt.Errorf("%w: %w", ErrRecoveryFailed, err)})
				return
			}
			o.emit(RecoverySent{Email: email})
		}
	})
}

func (o *Orchestrator) fail(a *attempt, err error) {
	o.idle(a)
	o.setPhase(PhaseFailed)
	o.logger.Warn("sign-in attempt failed", "attempt", a.id, "error", err)
	o.emit(Notice{Err: err})
}

func (o *Orchestrator) busyOn(a *attempt) {
	if a.busy {
		return
	}
	a.busy = true
	o.busyUp()
}

func (o *Orchestrator) idle(a *attempt) {
	if !a.busy {
		return
	}
	a.busy = false
	o.busyDown()
}

func (o *Orchestrator) busyUp() {
	o.busy++
	if o.busy == 1 {
		o.emit(Busy{Active: true})
	}
}

func (o *Orchestrator) busyDown() {
	o.busy--
	if o.busy == 0 {
		o.emit(Busy{Active: false})
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.phase == p {
		return
	}
	o.logger.Debug("phase changed", "from", o.phase, "to", p)
	o.phase = p
}

func (o *Orchestrator) emit(evt Event) {
	if err := o.bus.Publish(o.ctx, evt); err != nil {
		o.logger.Warn("sign-in subscriber failed", "event", evt.eventName(), "error", err)
	}
}

func (o *Orchestrator) snapshot() State {
	s := State{
		Phase:      o.phase,
		Email:      o.creds.Email,
		Password:   o.creds.Password,
		SignedInAt: o.join.signedIn,
		StoredAt:   o.join.stored,
		Busy:       o.busy > 0,
	}
	if o.verr != nil {
		verr := *o.verr
		s.ValidationError = &verr
	}
	if o.socialToken != nil {
		st := *o.socialToken
		s.SocialToken = &st
	}
	if o.session != nil {
		sess := *o.session
		s.Session = &sess
	}
	return s
}
