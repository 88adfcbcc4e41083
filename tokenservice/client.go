package tokenservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/gelozr/signin/log"
	"github.com/gelozr/signin/social"
)

type Config struct {
	BaseURL  string        `yaml:"base_url" env:"SIGNIN_BACKEND_URL" env-default:"http://localhost:8080"`
	Timeout  time.Duration `yaml:"timeout" env:"SIGNIN_BACKEND_TIMEOUT" env-default:"10s"`
	RetryMax int           `yaml:"retry_max" env:"SIGNIN_BACKEND_RETRY_MAX" env-default:"2"`
}

// Client talks to the backend over JSON. It keeps the session cookie set by
// a successful sign-in, which authorises LinkSocialAccount.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  log.Logger
}

func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With("component", "tokenservice")

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logger
	rc.HTTPClient.Jar = jar
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	rc.CheckRetry = retryUnanswered
	// Keep the last response so its error body can be decoded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		logger:  logger,
	}, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (SignResult, error) {
	var res SignResult
	err := c.post(ctx, "/v1/signin", PasswordSignInRequest{Email: email, Password: password}, &res)
	if err != nil {
		return SignResult{}, fmt.Errorf("sign in: %w", err)
	}
	return res, nil
}

func (c *Client) SocialLogin(ctx context.Context, subjectID string, provider social.Provider) (SignResult, error) {
	var res SignResult
	err := c.post(ctx, "/v1/signin/social", SocialSignInRequest{Provider: provider, SubjectID: subjectID}, &res)
	if err != nil {
		return SignResult{}, fmt.Errorf("social sign in: %w", err)
	}
	return res, nil
}

func (c *Client) ExchangeForAccessToken(ctx context.Context, proof IdentityProof) (SessionToken, error) {
	var res TokenResponse
	if err := c.post(ctx, "/v1/token", proof, &res); err != nil {
		return SessionToken{}, fmt.Errorf("exchange token: %w", err)
	}
	if res.AccessToken == "" {
		return SessionToken{}, fmt.Errorf("exchange token: %w: empty access token", ErrUnexpectedResponse)
	}

	tok := SessionToken{AccessToken: res.AccessToken}

	// Best effort: opaque tokens simply have no expiry.
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(res.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}

	return tok, nil
}

func (c *Client) LinkSocialAccount(ctx context.Context, proof SocialProof) error {
	if err := c.post(ctx, "/v1/social/link", proof, nil); err != nil {
		return fmt.Errorf("link social account: %w", err)
	}
	return nil
}

// RecoverPassword asks the backend for a one-time password for email. An
// administratively locked account fails with an *APIError carrying
// CodeAdminLocked.
func (c *Client) RecoverPassword(ctx context.Context, email string) (string, error) {
	var res RecoverResponse
	if err := c.post(ctx, "/v1/password/recover", RecoverRequest{Email: email}, &res); err != nil {
		return "", fmt.Errorf("recover password: %w", err)
	}
	if res.OneTimePassword == "" {
		return "", fmt.Errorf("recover password: %w: empty one-time password", ErrUnexpectedResponse)
	}
	return res.OneTimePassword, nil
}

// retryUnanswered retries calls the backend never answered, plus 429s. Every
// route is a POST, and a 5xx may come after the backend already acted.
func retryUnanswered(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode != http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "backend call", "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
	}
	return apiErr
}
