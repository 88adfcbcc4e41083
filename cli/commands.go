package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/gelozr/signin/backend"
	"github.com/gelozr/signin/hash"
	"github.com/gelozr/signin/signin"
	"github.com/gelozr/signin/social"
)

type LoginOptions struct {
	*RootOptions
	Email    string
	Password string
	Yes      bool
	Timeout  time.Duration
	Settle   time.Duration
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password and print the access token.

Without --email and --password the saved credentials of the vault are used.

Example:
  signin login --email a@b.com --password validpass
  SIGNIN_VAULT_PATH=./vault.db signin login --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "accept credential store prompts")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 2*time.Second, "how long to wait for the credential save after signing in")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *LoginOptions) error {
	if (opts.Email == "") != (opts.Password == "") {
		return errors.New("set both --email and --password, or neither to use the vault")
	}
	if opts.Email == "" && opts.cfg.Vault.Path == "" {
		return errors.New("no credentials: set --email and --password or configure a vault")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := newSession(ctx, opts.cfg, opts.logger, sessionOptions{
		email:    opts.Email,
		password: opts.Password,
		confirm:  opts.Yes,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.o.Start(); err != nil {
		return err
	}

	if err := s.until(ctx, signedIn(cmd.OutOrStdout())); err != nil {
		return err
	}
	return s.settle(cmd.Context(), opts.Settle)
}

type SocialOptions struct {
	*RootOptions
	Yes     bool
	Timeout time.Duration
}

func NewSocialCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SocialOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "social <facebook|google>",
		Short: "Sign in with a social provider",
		Long: `Sign in through a social provider's OAuth2 flow.

The command serves the provider's redirect URL locally, prints the
authorization URL to open, and signs in once the provider redirects back.

Example:
  SIGNIN_FACEBOOK_CLIENT_ID=... SIGNIN_FACEBOOK_CLIENT_SECRET=... \
  SIGNIN_FACEBOOK_REDIRECT_URL=http://localhost:8085/callback signin social facebook`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(social.Facebook), string(social.Google)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSocial(cmd, opts, social.Provider(args[0]))
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "accept credential store prompts")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "give up after this long")

	return cmd
}

func runSocial(cmd *cobra.Command, opts *SocialOptions, provider social.Provider) error {
	redirect := opts.cfg.Facebook.RedirectURL
	if provider == social.Google {
		redirect = opts.cfg.Google.RedirectURL
	}
	if redirect == "" {
		return fmt.Errorf("%s is not configured", provider)
	}
	callback, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := newSession(ctx, opts.cfg, opts.logger, sessionOptions{
		confirm: opts.Yes,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer s.close()

	stop, err := serveCallback(callback, s.bridge, opts.RootOptions)
	if err != nil {
		return err
	}
	defer stop()

	if err := s.o.Start(); err != nil {
		return err
	}
	if err := s.o.SubmitSocial(provider); err != nil {
		return err
	}
	return s.until(ctx, signedIn(cmd.OutOrStdout()))
}

// serveCallback receives the provider redirect on the redirect URL's host and
// path and hands it to the bridge.
func serveCallback(callback *url.URL, bridge *social.Bridge, opts *RootOptions) (stop func(), err error) {
	path := callback.Path
	if path == "" {
		path = "/"
	}

	r := chi.NewRouter()
	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		if err := bridge.DeliverCallback(r.Context(), r.URL.Query()); err != nil {
			opts.logger.Warn("social callback rejected", "error", err)
			http.Error(w, "sign-in link expired, start again", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You can close this window and return to the terminal.")
	})

	ln, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.logger.Error("callback server stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

type ForgotOptions struct {
	*RootOptions
	Email   string
	Timeout time.Duration
}

func NewForgotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForgotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Mail a one-time password to reset a forgotten password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForgot(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up after this long")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runForgot(cmd *cobra.Command, opts *ForgotOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := newSession(ctx, opts.cfg, opts.logger, sessionOptions{
		in:  cmd.InOrStdin(),
		out: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.o.SetEmail(opts.Email); err != nil {
		return err
	}
	if err := s.o.ForgotPassword(); err != nil {
		return err
	}

	return s.until(ctx, func(evt signin.Event) (bool, error) {
		switch e := evt.(type) {
		case signin.RecoverySent:
			fmt.Fprintf(cmd.OutOrStdout(), "A recovery code was sent to %s\n", e.Email)
			return true, nil
		case signin.Notice:
			return true, e.Err
		case signin.ValidationFailed:
			return true, &e.Error
		}
		return false, nil
	})
}

type ServeOptions struct {
	*RootOptions
	Users  []string
	Locked []string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference identity backend",
		Long: `Run the identity backend with an in-memory user store.

Example:
  SIGNIN_BACKEND_JWT_SECRET=dev signin serve --user a@b.com:validpass --locked admin@b.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Users, "user", nil, "seed a user as email:password (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Locked, "locked", nil, "lock a seeded user's password recovery (repeatable)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx := cmd.Context()

	hasher, err := hash.New(hash.Bcrypt)
	if err != nil {
		return err
	}
	users := backend.NewMemoryUserProvider(hasher)

	if err := seedUsers(ctx, users, opts.Users, opts.Locked); err != nil {
		return err
	}

	bridge, err := newBridge(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}

	srv, err := backend.New(opts.cfg.Server, users, opts.logger, backend.WithSocialVerifier(bridge))
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func seedUsers(ctx context.Context, users *backend.MemoryUserProvider, seeds, locked []string) error {
	for _, seed := range seeds {
		email, password, ok := strings.Cut(seed, ":")
		if !ok || email == "" || password == "" {
			return fmt.Errorf("bad --user %q: want email:password", seed)
		}
		if _, err := users.Register(ctx, email, password); err != nil {
			return fmt.Errorf("seed %s: %w", email, err)
		}
	}
	for _, email := range locked {
		if err := users.SetLocked(ctx, email, true); err != nil {
			return fmt.Errorf("lock %s: %w", email, err)
		}
	}
	return nil
}
