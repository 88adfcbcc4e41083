package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gelozr/signin/config"
	"github.com/gelozr/signin/credstore"
	"github.com/gelozr/signin/hash"
	"github.com/gelozr/signin/log"
	"github.com/gelozr/signin/mail"
	"github.com/gelozr/signin/prefs"
	"github.com/gelozr/signin/signin"
	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
)

// session wires a sign-in orchestrator to the configured backend, vault,
// prefs file, mailer and social providers.
type session struct {
	o      *signin.Orchestrator
	bridge *social.Bridge
	events chan signin.Event
	logger log.Logger

	in      *bufio.Reader
	out     io.Writer
	confirm bool
	closers []func() error
}

type sessionOptions struct {
	email    string
	password string

	// confirm accepts every credential store resolution without asking.
	confirm bool
	in      io.Reader
	out     io.Writer
}

func newSession(ctx context.Context, cfg config.Config, logger log.Logger, opts sessionOptions) (*session, error) {
	s := &session{
		events:  make(chan signin.Event, 64),
		logger:  logger,
		in:      bufio.NewReader(opts.in),
		out:     opts.out,
		confirm: opts.confirm,
	}

	tokens, err := tokenservice.New(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	var platform credstore.Platform
	if cfg.Vault.Path != "" {
		vault, err := credstore.OpenVault(ctx, cfg.Vault)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, vault.Close)
		platform = vault
	}
	store := credstore.New(platform, logger)

	hasher, err := hash.New(hash.Argon2ID)
	if err != nil {
		_ = s.close()
		return nil, err
	}

	mailer, err := mail.NewManager(cfg.Mail, logger)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	from := mail.Address{Name: cfg.Mail.MailFromName, Address: cfg.Mail.MailFrom}

	s.bridge, err = newBridge(ctx, cfg, logger)
	if err != nil {
		_ = s.close()
		return nil, err
	}

	s.o, err = signin.New(signin.Config{
		TokenService: tokens,
		Store:        store,
		Social:       s.bridge,
		Local:        prefs.New(cfg.Prefs.Path, hasher),
		Mailer:       mail.NewRecoveryMailer(mailer, from),
		Validator:    cfg.Validator(),
		Logger:       logger,
		Email:        opts.email,
		Password:     opts.password,
	})
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.closers = append([]func() error{s.o.Close}, s.closers...)

	s.o.Subscribe(func(_ context.Context, evt signin.Event) error {
		select {
		case s.events <- evt:
			return nil
		default:
			return errors.New("event queue full")
		}
	})

	return s, nil
}

func newBridge(ctx context.Context, cfg config.Config, logger log.Logger) (*social.Bridge, error) {
	b := social.NewBridge(logger)

	if cfg.Facebook.Enabled() {
		p, err := social.NewFacebook(cfg.Facebook)
		if err != nil {
			return nil, err
		}
		b.Extend(p)
	}
	if cfg.Google.Enabled() {
		p, err := social.NewGoogle(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		b.Extend(p)
	}

	return b, nil
}

func (s *session) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// until handles events until stop reports the one that ends the command.
func (s *session) until(ctx context.Context, stop func(signin.Event) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no sign-in result: %w", ctx.Err())
		case evt := <-s.events:
			if err := s.handle(ctx, evt); err != nil {
				return err
			}
			if done, err := stop(evt); done {
				return err
			}
		}
	}
}

// settle keeps handling events for d so a pending credential save can be
// confirmed. It returns early once the save has completed.
func (s *session) settle(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := s.until(ctx, func(evt signin.Event) (bool, error) {
		_, ok := evt.(signin.Ready)
		return ok, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *session) handle(ctx context.Context, evt signin.Event) error {
	switch e := evt.(type) {
	case signin.SocialRedirect:
		fmt.Fprintf(s.out, "Open this URL to sign in with %s:\n  %s\n", e.Provider, e.URL)
	case signin.CredentialsFilled:
		fmt.Fprintf(s.out, "Using saved credentials for %s\n", e.Credentials.Email)
	case signin.ResolutionRequested:
		outcome, err := s.resolve(e)
		if err != nil {
			return err
		}
		return s.o.DeliverResolution(ctx, e.RequestID, outcome)
	case signin.Notice:
		if errors.Is(e.Err, signin.ErrCredentialStoreFailed) {
			fmt.Fprintf(s.out, "Warning: %v\n", e.Err)
		}
	case signin.Busy:
		s.logger.Debug("busy", "active", e.Active)
	}
	return nil
}

func (s *session) resolve(e signin.ResolutionRequested) (credstore.Outcome, error) {
	if s.confirm {
		outcome := credstore.Outcome{Accepted: true}
		if len(e.Accounts) > 0 {
			outcome.Email = e.Accounts[0]
		}
		return outcome, nil
	}

	if e.Op == credstore.OpSave {
		fmt.Fprintf(s.out, "Save the password for %s? [y/N] ", strings.Join(e.Accounts, ", "))
		line, err := s.readLine()
		if err != nil {
			return credstore.Outcome{}, err
		}
		return credstore.Outcome{Accepted: strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")}, nil
	}

	fmt.Fprintln(s.out, "Saved accounts:")
	for i, acc := range e.Accounts {
		fmt.Fprintf(s.out, "  %d) %s\n", i+1, acc)
	}
	fmt.Fprint(s.out, "Pick one (empty to skip): ")

	line, err := s.readLine()
	if err != nil {
		return credstore.Outcome{}, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(e.Accounts) {
		return credstore.Outcome{}, nil
	}
	return credstore.Outcome{Accepted: true, Email: e.Accounts[n-1]}, nil
}

func (s *session) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// signedIn stops on the outcome of a sign-in attempt. A failed credential
// save is only a warning.
func signedIn(out io.Writer) func(signin.Event) (bool, error) {
	return func(evt signin.Event) (bool, error) {
		switch e := evt.(type) {
		case signin.Ready:
			fmt.Fprintf(out, "Signed in. Access token expires %s\n%s\n", e.Token.ExpiresAt.Format(time.RFC3339), e.Token.AccessToken)
			return true, nil
		case signin.Notice:
			if errors.Is(e.Err, signin.ErrCredentialStoreFailed) {
				return false, nil
			}
			return true, e.Err
		case signin.ValidationFailed:
			return true, fmt.Errorf("%s: %w", e.Error.Field, &e.Error)
		}
		return false, nil
	}
}
