package signin

import (
	"errors"
	"fmt"

	"github.com/gelozr/signin/social"
)

var (
	ErrCredentialsRejected   = errors.New("wrong email or password")
	ErrSocialLoginCancelled  = errors.New("social login cancelled")
	ErrSocialLoginFailed     = errors.New("social login failed")
	ErrCredentialStoreFailed = errors.New("credential store failed")
	ErrTokenExchangeFailed   = errors.New("could not obtain an access token")
	ErrRecoveryFailed        = errors.New("password recovery failed")
	ErrSignInFailed          = errors.New("sign in failed")
	ErrClosed                = errors.New("sign-in session closed")
	ErrAlreadyStarted        = errors.New("sign-in session already started")
	ErrNoCredentialStore     = errors.New("no credential store configured")
)

type Field int

const (
	FieldEmail Field = iota + 1
	FieldPassword
	FieldForgotEmail
)

func (f Field) String() string {
	switch f {
	case FieldEmail:
		return "email"
	case FieldPassword:
		return "password"
	case FieldForgotEmail:
		return "forgot_email"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ValidationError is a field-scoped input error. Its message is the one to
// show next to the field.
type ValidationError struct {
	Field Field
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SocialAccountNotLinkedError means the social identity is valid but no user
// is linked to it yet. Signing in with email and password once links it.
type SocialAccountNotLinkedError struct {
	Provider social.Provider
}

func (e *SocialAccountNotLinkedError) Error() string {
	return fmt.Sprintf("this %s account is not linked yet: sign in with your email and password first to link it", e.Provider)
}

// RecoveryLockedError means an administrator locked the account, so the
// password cannot be recovered by the user.
type RecoveryLockedError struct {
	Code int
}

func (e *RecoveryLockedError) Error() string {
	return "to reset this password contact your facility administrator"
}
