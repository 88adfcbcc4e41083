// Package social runs OAuth2 sign-in against third-party identity providers.
//
// A Bridge starts a login, hands the caller an authorization URL to open, and
// reports exactly one Result per login once the provider redirects back and
// the callback is delivered.
package social

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownState     = errors.New("unknown or expired login state")
	ErrProviderNotFound = errors.New("social provider not found")
	ErrMissingSubject   = errors.New("provider did not identify the user")
	ErrInvalidToken     = errors.New("provider rejected the token")
)

type Provider string

const (
	Facebook Provider = "facebook"
	Google   Provider = "google"
)

type Outcome int

const (
	TokenObtained Outcome = iota + 1
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case TokenObtained:
		return "token_obtained"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Identity is what a provider tells us about the user after a code exchange.
type Identity struct {
	Provider  Provider
	SubjectID string

	// Token proves the identity to a backend: the Graph access token for
	// Facebook, the raw id_token for Google.
	Token string
}

// Result is the single terminal report of a login.
type Result struct {
	Outcome Outcome
	Identity

	// Err is set for Failed.
	Err error
}

// IdentityProvider is one OAuth2 provider.
type IdentityProvider interface {
	Name() Provider

	// AuthCodeURL returns the authorization URL for state, bound to the PKCE
	// verifier.
	AuthCodeURL(state, verifier string) string

	// Exchange trades the authorization code for the user's identity.
	Exchange(ctx context.Context, code, verifier string) (Identity, error)

	// VerifyToken resolves an Identity.Token back to the subject it was
	// issued for.
	VerifyToken(ctx context.Context, token string) (subjectID string, err error)
}

// ProviderConfig holds the OAuth2 client settings of one provider. Endpoint
// fields are optional and default to the provider's public endpoints.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`

	AuthURL   string `yaml:"auth_url" env:"AUTH_URL"`
	TokenURL  string `yaml:"token_url" env:"TOKEN_URL"`
	GraphURL  string `yaml:"graph_url" env:"GRAPH_URL"`
	IssuerURL string `yaml:"issuer_url" env:"ISSUER_URL"`
}

func (c ProviderConfig) Enabled() bool {
	return c.ClientID != ""
}

func (c ProviderConfig) validate(p Provider) error {
	if c.ClientID == "" || c.ClientSecret == "" || c.RedirectURL == "" {
		return fmt.Errorf("%s oauth config missing required fields", p)
	}
	return nil
}
