// Package tokenservice is the client of the identity backend: password and
// social sign-in, access token exchange, social account linking and
// password recovery.
package tokenservice

import (
	"errors"
	"fmt"
	"time"

	"github.com/gelozr/signin/social"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects the identity
	// presented to it. For a social sign-in it means the account is not
	// linked yet.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnexpectedResponse = errors.New("unexpected backend response")
)

// Backend error codes carried in APIError.Code.
const (
	CodeInvalidCredentials = 1
	CodeSocialNotLinked    = 2
	CodeUnknownUser        = 3
	CodeAdminLocked        = 4
	CodeBadRequest         = 5
	CodeUnauthorized       = 6
	CodeInternal           = 7
)

// APIError is an error body returned by the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d (status %d): %s", e.Code, e.Status, e.Message)
}

type SignResult struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// SocialProof identifies a user through a social provider.
type SocialProof struct {
	Provider  social.Provider `json:"provider"`
	SubjectID string          `json:"subject_id"`
	Token     string          `json:"token"`
}

// IdentityProof is what an access token is exchanged for: either a password
// or a linked social identity.
type IdentityProof struct {
	Email    string       `json:"email,omitempty"`
	Password string       `json:"password,omitempty"`
	Social   *SocialProof `json:"social,omitempty"`
}

type SessionToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

type PasswordSignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SocialSignInRequest struct {
	Provider  social.Provider `json:"provider"`
	SubjectID string          `json:"subject_id"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type RecoverRequest struct {
	Email string `json:"email"`
}

type RecoverResponse struct {
	OneTimePassword string `json:"otp"`
}
