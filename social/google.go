package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const defaultGoogleIssuer = "https://accounts.google.com"

// GoogleProvider signs in with Google and reads the subject from the verified
// OIDC id_token.
type GoogleProvider struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

var _ IdentityProvider = (*GoogleProvider)(nil)

// NewGoogle fetches the issuer's discovery document, so it needs network
// access to the issuer.
func NewGoogle(ctx context.Context, cfg ProviderConfig) (*GoogleProvider, error) {
	if err := cfg.validate(Google); err != nil {
		return nil, err
	}

	issuer := defaultGoogleIssuer
	if cfg.IssuerURL != "" {
		issuer = cfg.IssuerURL
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("init google oidc provider: %w", err)
	}

	return &GoogleProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *GoogleProvider) Name() Provider {
	return Google
}

func (p *GoogleProvider) AuthCodeURL(state, verifier string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, verifier string) (Identity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, fmt.Errorf("google token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, errors.New("google did not return id_token")
	}

	subject, err := p.VerifyToken(ctx, rawIDToken)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Provider:  Google,
		SubjectID: subject,
		Token:     rawIDToken,
	}, nil
}

// VerifyToken checks the id_token signature, issuer, audience and expiry.
func (p *GoogleProvider) VerifyToken(ctx context.Context, rawIDToken string) (string, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%w: verify google id_token: %w", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return "", ErrMissingSubject
	}
	return idToken.Subject, nil
}
