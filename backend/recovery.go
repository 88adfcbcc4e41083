package backend

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const recoveryIssuer = "signin"

// Recovery issues and checks one-time passwords derived from each user's
// recovery secret.
type Recovery struct {
	opts totp.ValidateOpts
	now  func() time.Time
}

func NewRecovery(period time.Duration) *Recovery {
	if period <= 0 {
		period = 10 * time.Minute
	}

	return &Recovery{
		opts: totp.ValidateOpts{
			Period:    uint(period / time.Second),
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		now: time.Now,
	}
}

func (r *Recovery) Issue(u *User) (string, error) {
	code, err := totp.GenerateCodeCustom(u.RecoverySecret, r.now().UTC(), r.opts)
	if err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	return code, nil
}

func (r *Recovery) Verify(u *User, code string) (bool, error) {
	ok, err := totp.ValidateCustom(code, u.RecoverySecret, r.now().UTC(), r.opts)
	if err != nil {
		return false, fmt.Errorf("validate recovery code: %w", err)
	}
	return ok, nil
}

func newRecoverySecret(email string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      recoveryIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", fmt.Errorf("generate recovery secret: %w", err)
	}
	return key.Secret(), nil
}
