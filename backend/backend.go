// Package backend is a reference identity server for the sign-in client. It
// keeps users in memory, signs access and session tokens as JWTs and hands
// out one-time passwords for password recovery.
package backend

import (
	"context"
	"errors"

	"github.com/gelozr/signin/social"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrSocialNotLinked   = errors.New("social account not linked")
	ErrSocialLinkTaken   = errors.New("social account linked to another user")
	ErrAccountLocked     = errors.New("account locked by administrator")
	ErrSocialUnverified  = errors.New("social token does not prove the subject")
)

type User struct {
	ID             string
	Email          string
	PasswordHash   string
	Locked         bool
	RecoverySecret string
}

type PasswordCredentials struct {
	Email    string
	Password string
}

type SocialCredentials struct {
	Provider  social.Provider
	SubjectID string
}

// UserProvider looks users up and keeps their social links.
type UserProvider interface {
	FindByCredentials(ctx context.Context, creds PasswordCredentials) (*User, error)
	FindBySocial(ctx context.Context, creds SocialCredentials) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Register(ctx context.Context, email, password string) (*User, error)
	LinkSocial(ctx context.Context, userID string, creds SocialCredentials) error
	SetPassword(ctx context.Context, email, password string) error
	SetLocked(ctx context.Context, email string, locked bool) error
}

// SocialVerifier resolves a provider token to the subject it was issued for.
// *social.Bridge implements it.
type SocialVerifier interface {
	VerifyToken(ctx context.Context, provider social.Provider, token string) (subjectID string, err error)
}

// Verified is the result of validating a token.
type Verified struct {
	UserID string
	Claims Claims
}

type ctxKey string

var userCtxKey = ctxKey("user")

// WithUserCtx stores the authenticated user in the context.
func WithUserCtx(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromCtx retrieves the authenticated user from the context.
func UserFromCtx(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userCtxKey).(*User)
	return u, ok
}
