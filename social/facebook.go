package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const defaultGraphURL = "https://graph.facebook.com"

// FacebookProvider signs in with Facebook Login and identifies the user
// through the Graph API.
type FacebookProvider struct {
	oauthConfig *oauth2.Config
	graphURL    string
}

var _ IdentityProvider = (*FacebookProvider)(nil)

func NewFacebook(cfg ProviderConfig) (*FacebookProvider, error) {
	if err := cfg.validate(Facebook); err != nil {
		return nil, err
	}

	endpoint := facebook.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	graphURL := defaultGraphURL
	if cfg.GraphURL != "" {
		graphURL = cfg.GraphURL
	}

	return &FacebookProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"public_profile", "email"},
		},
		graphURL: strings.TrimRight(graphURL, "/"),
	}, nil
}

func (p *FacebookProvider) Name() Provider {
	return Facebook
}

func (p *FacebookProvider) AuthCodeURL(state, verifier string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *FacebookProvider) Exchange(ctx context.Context, code, verifier string) (Identity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, fmt.Errorf("facebook token exchange: %w", err)
	}

	subject, err := p.VerifyToken(ctx, token.AccessToken)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Provider:  Facebook,
		SubjectID: subject,
		Token:     token.AccessToken,
	}, nil
}

// VerifyToken asks the Graph API whom the access token belongs to.
func (p *FacebookProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.graphURL+"/me?fields=id", nil)
	if err != nil {
		return "", err
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("facebook graph: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: facebook graph status %s", ErrInvalidToken, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("facebook graph: unexpected status %s", resp.Status)
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode facebook profile: %w", err)
	}
	if me.ID == "" {
		return "", ErrMissingSubject
	}
	return me.ID, nil
}
