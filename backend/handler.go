package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/gelozr/signin/tokenservice"
	"github.com/gelozr/signin/validate"
)

type resetRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req tokenservice.PasswordSignInRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "unable to parse body")
		return
	}

	u, err := s.users.FindByCredentials(r.Context(), PasswordCredentials{Email: req.Email, Password: req.Password})
	if err != nil {
		s.failAuth(w, r, err)
		return
	}
	if u.Locked {
		s.fail(w, r, http.StatusForbidden, tokenservice.CodeAdminLocked, ErrAccountLocked.Error())
		return
	}

	s.startSession(w, r, u)
}

func (s *Server) socialSignIn(w http.ResponseWriter, r *http.Request) {
	var req tokenservice.SocialSignInRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "unable to parse body")
		return
	}

	u, err := s.users.FindBySocial(r.Context(), SocialCredentials{Provider: req.Provider, SubjectID: req.SubjectID})
	if err != nil {
		s.failAuth(w, r, err)
		return
	}
	if u.Locked {
		s.fail(w, r, http.StatusForbidden, tokenservice.CodeAdminLocked, ErrAccountLocked.Error())
		return
	}

	s.startSession(w, r, u)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var proof tokenservice.IdentityProof
	if err := render.DecodeJSON(r.Body, &proof); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "unable to parse body")
		return
	}

	var (
		u   *User
		err error
	)
	if proof.Social != nil {
		if err := s.verifySocial(r.Context(), *proof.Social); err != nil {
			s.failSocial(w, r, err)
			return
		}
		u, err = s.users.FindBySocial(r.Context(), SocialCredentials{Provider: proof.Social.Provider, SubjectID: proof.Social.SubjectID})
	} else {
		u, err = s.users.FindByCredentials(r.Context(), PasswordCredentials{Email: proof.Email, Password: proof.Password})
	}
	if err != nil {
		s.failAuth(w, r, err)
		return
	}
	if u.Locked {
		s.fail(w, r, http.StatusForbidden, tokenservice.CodeAdminLocked, ErrAccountLocked.Error())
		return
	}

	access, err := s.jwt.IssueToken(r.Context(), u, KindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		s.internal(w, r, err)
		return
	}

	render.JSON(w, r, tokenservice.TokenResponse{AccessToken: access, TokenType: "Bearer"})
}

func (s *Server) linkSocial(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromCtx(r.Context())
	if !ok {
		s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeUnauthorized, "sign in first")
		return
	}

	var proof tokenservice.SocialProof
	if err := render.DecodeJSON(r.Body, &proof); err != nil || proof.SubjectID == "" || proof.Provider == "" {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "provider and subject_id are required")
		return
	}
	if err := s.verifySocial(r.Context(), proof); err != nil {
		s.failSocial(w, r, err)
		return
	}

	err := s.users.LinkSocial(r.Context(), u.ID, SocialCredentials{Provider: proof.Provider, SubjectID: proof.SubjectID})
	if errors.Is(err, ErrSocialLinkTaken) {
		s.fail(w, r, http.StatusConflict, tokenservice.CodeBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internal(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "social account linked", "user_id", u.ID, "provider", proof.Provider)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recoverPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenservice.RecoverRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "unable to parse body")
		return
	}
	if err := s.validator.Validate(validate.Email, req.Email); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, err.Error())
		return
	}

	u, err := s.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, ErrUserNotFound) {
		s.fail(w, r, http.StatusNotFound, tokenservice.CodeUnknownUser, err.Error())
		return
	}
	if err != nil {
		s.internal(w, r, err)
		return
	}
	if u.Locked {
		s.fail(w, r, http.StatusForbidden, tokenservice.CodeAdminLocked, ErrAccountLocked.Error())
		return
	}

	code, err := s.recovery.Issue(u)
	if err != nil {
		s.internal(w, r, err)
		return
	}

	render.JSON(w, r, tokenservice.RecoverResponse{OneTimePassword: code})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, "unable to parse body")
		return
	}
	if err := s.validator.Validate(validate.Password, req.Password); err != nil {
		s.fail(w, r, http.StatusBadRequest, tokenservice.CodeBadRequest, err.Error())
		return
	}

	u, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		s.failAuth(w, r, err)
		return
	}

	ok, err := s.recovery.Verify(u, req.OTP)
	if err != nil || !ok {
		s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeInvalidCredentials, "invalid one-time password")
		return
	}

	if err := s.users.SetPassword(r.Context(), u.Email, req.Password); err != nil {
		s.internal(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u *User) {
	session, exp, err := s.jwt.Sign(u.ID, KindSession, s.cfg.SessionTTL)
	if err != nil {
		s.internal(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	render.JSON(w, r, tokenservice.SignResult{UserID: u.ID, Email: u.Email})
}

// verifySocial checks that proof.Token was issued for proof.SubjectID.
func (s *Server) verifySocial(ctx context.Context, proof tokenservice.SocialProof) error {
	if s.social == nil {
		return fmt.Errorf("%w: no verifier configured", ErrSocialUnverified)
	}
	if proof.Token == "" {
		return fmt.Errorf("%w: missing token", ErrSocialUnverified)
	}

	subject, err := s.social.VerifyToken(ctx, proof.Provider, proof.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSocialUnverified, err)
	}
	if subject != proof.SubjectID {
		return fmt.Errorf("%w: token belongs to another subject", ErrSocialUnverified)
	}
	return nil
}

func (s *Server) failSocial(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WarnContext(r.Context(), "social proof rejected", "error", err)
	s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeInvalidCredentials, "social token rejected")
}

// failAuth maps a user lookup error to a 401.
func (s *Server) failAuth(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSocialNotLinked):
		s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeSocialNotLinked, "social account is not linked to a user")
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrIncorrectPassword):
		s.fail(w, r, http.StatusUnauthorized, tokenservice.CodeInvalidCredentials, "wrong email or password")
	default:
		s.internal(w, r, err)
	}
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "request failed", "error", err)
	s.fail(w, r, http.StatusInternalServerError, tokenservice.CodeInternal, "internal error")
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status, code int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, tokenservice.APIError{Code: code, Message: msg})
}
