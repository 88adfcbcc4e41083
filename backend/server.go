package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gelozr/signin/log"
	"github.com/gelozr/signin/tokenservice"
	"github.com/gelozr/signin/validate"
)

const sessionCookie = "signin_session"

type Config struct {
	Addr           string        `yaml:"addr" env:"SIGNIN_BACKEND_ADDR" env-default:":8080"`
	JWTSecret      string        `yaml:"jwt_secret" env:"SIGNIN_BACKEND_JWT_SECRET"`
	Issuer         string        `yaml:"issuer" env:"SIGNIN_BACKEND_ISSUER" env-default:"signin"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"SIGNIN_BACKEND_ACCESS_TTL" env-default:"15m"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"SIGNIN_BACKEND_SESSION_TTL" env-default:"30m"`
	RecoveryPeriod time.Duration `yaml:"recovery_period" env:"SIGNIN_BACKEND_RECOVERY_PERIOD" env-default:"10m"`
}

type Server struct {
	cfg       Config
	users     UserProvider
	jwt       *JWTDriver
	recovery  *Recovery
	validator validate.Validator
	social    SocialVerifier
	logger    log.Logger
}

type Option func(*Server)

// WithSocialVerifier sets how social tokens are checked. Without one every
// social proof is refused.
func WithSocialVerifier(v SocialVerifier) Option {
	return func(s *Server) {
		s.social = v
	}
}

func New(cfg Config, users UserProvider, logger log.Logger, opts ...Option) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("backend jwt secret is required")
	}
	if users == nil {
		return nil, errors.New("backend user provider is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}

	s := &Server{
		cfg:       cfg,
		users:     users,
		jwt:       NewJWTDriver([]byte(cfg.JWTSecret), cfg.Issuer),
		recovery:  NewRecovery(cfg.RecoveryPeriod),
		validator: validate.Validator{MinPasswordLength: validate.DefaultMinPasswordLength},
		logger:    logger.With("component", "backend"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/signin", s.signIn)
		r.Post("/signin/social", s.socialSignIn)
		r.Post("/token", s.token)
		r.Post("/password/recover", s.recoverPassword)
		r.Post("/password/reset", s.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/social/link", s.linkSocial)
		})
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("backend listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := log.WithAttrs(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(sessionCookie)
		if err != nil {
			s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeUnauthorized, "sign in first")
			return
		}

		v, err := s.jwt.Validate(r.Context(), ck.Value, KindSession)
		if err != nil {
			s.logger.DebugContext(r.Context(), "session rejected", "error", err)
			s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeUnauthorized, "session expired")
			return
		}

		u, err := s.users.GetByID(r.Context(), v.UserID)
		if err != nil {
			s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeUnauthorized, "unknown session user")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserCtx(r.Context(), u)))
	})
}
