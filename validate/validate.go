// Package validate checks sign-in form values. Validation is pure: the same
// input always yields the same result and nothing is shared between calls.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
)

type Kind int

const (
	Email Kind = iota + 1
	Password
)

func (k Kind) String() string {
	switch k {
	case Email:
		return "email"
	case Password:
		return "password"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const DefaultMinPasswordLength = 6

var (
	ErrEmailInvalid     = errors.New("please enter a valid email address")
	ErrPasswordEmpty    = errors.New("please enter your password")
	ErrPasswordTooShort = errors.New("password is too short")
	ErrUnknownKind      = errors.New("unknown field kind")
)

// Validator holds the password policy. The zero value uses
// DefaultMinPasswordLength.
type Validator struct {
	MinPasswordLength int
}

var defaultValidator = Validator{MinPasswordLength: DefaultMinPasswordLength}

// Validate checks value with the default policy.
func Validate(kind Kind, value string) error {
	return defaultValidator.Validate(kind, value)
}

// Validate returns nil when value is acceptable for kind. The error text is
// meant to be shown next to the field.
func (v Validator) Validate(kind Kind, value string) error {
	switch kind {
	case Email:
		return v.email(value)
	case Password:
		return v.password(value)
	}
	return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func (v Validator) email(value string) error {
	value = strings.TrimSpace(value)
	if value == "" || !govalidator.IsEmail(value) {
		return ErrEmailInvalid
	}
	return nil
}

func (v Validator) password(value string) error {
	if value == "" {
		return ErrPasswordEmpty
	}

	minLen := v.MinPasswordLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if utf8.RuneCountInString(value) < minLen {
		return fmt.Errorf("%w: use at least %d characters", ErrPasswordTooShort, minLen)
	}
	return nil
}
