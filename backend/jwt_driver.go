package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrJWTExpired = errors.New("JWT is expired")
	ErrJWTInvalid = errors.New("JWT is invalid")
)

// Token kinds. A session token only authorises calls made by the signed-in
// client; it is never accepted as an access token and vice versa.
const (
	KindAccess  = "access"
	KindSession = "session"
)

type Claims struct {
	UserID string `json:"uid"`
	Kind   string `json:"knd"`
	jwt.RegisteredClaims
}

// JWTDriver signs and parses HS256 tokens.
type JWTDriver struct {
	verifyKey []byte
	issuer    string
	now       func() time.Time
}

func NewJWTDriver(verifyKey []byte, issuer string) *JWTDriver {
	return &JWTDriver{
		verifyKey: verifyKey,
		issuer:    issuer,
		now:       time.Now,
	}
}

func (d *JWTDriver) Sign(uid, kind string, ttl time.Duration) (string, time.Time, error) {
	now := d.now()
	exp := jwt.NewNumericDate(now.Add(ttl))

	c := Claims{UserID: uid, Kind: kind}
	c.ID = uuid.NewString()
	c.Issuer = d.issuer
	c.Subject = uid
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = exp
	c.NotBefore = jwt.NewNumericDate(now)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)

	signed, err := tok.SignedString(d.verifyKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return signed, exp.Time, nil
}

func (d *JWTDriver) Parse(tokenStr string) (Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return d.verifyKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(d.issuer),
		jwt.WithTimeFunc(d.now),
	)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrJWTExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, ErrJWTInvalid
		default:
			return Claims{}, fmt.Errorf("parsing token: %w", err)
		}
	}

	if c, ok := tok.Claims.(*Claims); ok {
		return *c, nil
	}

	return Claims{}, ErrJWTInvalid
}

func (d *JWTDriver) IssueToken(ctx context.Context, u *User, kind string, ttl time.Duration) (string, error) {
	signed, _, err := d.Sign(u.ID, kind, ttl)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return signed, nil
}

// Validate parses token and checks it is of the expected kind.
func (d *JWTDriver) Validate(ctx context.Context, token, kind string) (Verified, error) {
	claims, err := d.Parse(token)
	if err != nil {
		return Verified{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Kind != kind {
		return Verified{}, fmt.Errorf("parse token: %w: want %s token, got %s", ErrJWTInvalid, kind, claims.Kind)
	}

	return Verified{UserID: claims.UserID, Claims: claims}, nil
}
