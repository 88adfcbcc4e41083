package tokenservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
)

func newClient(t *testing.T, h http.Handler) *tokenservice.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := tokenservice.New(tokenservice.Config{BaseURL: srv.URL, RetryMax: 0}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := tokenservice.New(tokenservice.Config{}, nil)
	assert.Error(t, err)
}

func TestClient_SignIn(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		wantErr   error
		wantCode  int
		wantUser  string
		wantNoErr bool
	}{
		{
			name:      "success",
			status:    http.StatusOK,
			body:      tokenservice.SignResult{UserID: "u1", Email: "a@b.com"},
			wantUser:  "u1",
			wantNoErr: true,
		},
		{
			name:     "rejected",
			status:   http.StatusUnauthorized,
			body:     tokenservice.APIError{Code: tokenservice.CodeInvalidCredentials, Message: "wrong email or password"},
			wantErr:  tokenservice.ErrInvalidCredentials,
			wantCode: tokenservice.CodeInvalidCredentials,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     tokenservice.APIError{Code: tokenservice.CodeInternal, Message: "boom"},
			wantCode: tokenservice.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got tokenservice.PasswordSignInRequest
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/signin", r.URL.Path)
				assert.Equal(t, http.MethodPost, r.Method)
				_ = json.NewDecoder(r.Body).Decode(&got)
				writeJSON(w, tt.status, tt.body)
			}))

			res, err := c.SignIn(context.Background(), "a@b.com", "validpass")
			assert.Equal(t, tokenservice.PasswordSignInRequest{Email: "a@b.com", Password: "validpass"}, got)

			if tt.wantNoErr {
				require.NoError(t, err)
				assert.Equal(t, tt.wantUser, res.UserID)
				return
			}

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NotErrorIs(t, err, tokenservice.ErrInvalidCredentials)
			}

			var apiErr *tokenservice.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestClient_SocialLogin(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenservice.SocialSignInRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.SubjectID != "linked" {
			writeJSON(w, http.StatusUnauthorized, tokenservice.APIError{Code: tokenservice.CodeSocialNotLinked, Message: "not linked"})
			return
		}
		assert.Equal(t, social.Facebook, req.Provider)
		writeJSON(w, http.StatusOK, tokenservice.SignResult{UserID: "u1"})
	}))

	res, err := c.SocialLogin(context.Background(), "linked", social.Facebook)
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)

	_, err = c.SocialLogin(context.Background(), "stranger", social.Facebook)
	assert.ErrorIs(t, err, tokenservice.ErrInvalidCredentials)
}

func TestClient_ExchangeForAccessToken(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any key"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantExp time.Time
		wantErr bool
	}{
		{name: "jwt", token: signed, wantExp: exp},
		{name: "opaque", token: "opaque-token"},
		{name: "empty", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got tokenservice.IdentityProof
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/token", r.URL.Path)
				_ = json.NewDecoder(r.Body).Decode(&got)
				writeJSON(w, http.StatusOK, tokenservice.TokenResponse{AccessToken: tt.token, TokenType: "Bearer"})
			}))

			proof := tokenservice.IdentityProof{Social: &tokenservice.SocialProof{Provider: social.Google, SubjectID: "s1", Token: "t"}}
			tok, err := c.ExchangeForAccessToken(context.Background(), proof)
			assert.Equal(t, proof, got)

			if tt.wantErr {
				assert.ErrorIs(t, err, tokenservice.ErrUnexpectedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, tok.AccessToken)
			assert.True(t, tt.wantExp.Equal(tok.ExpiresAt), "ExpiresAt = %v, want %v", tok.ExpiresAt, tt.wantExp)
		})
	}
}

func TestClient_LinkSocialAccountSendsSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/signin", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s3cr3t", Path: "/"})
		writeJSON(w, http.StatusOK, tokenservice.SignResult{UserID: "u1"})
	})
	mux.HandleFunc("/v1/social/link", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session"); err != nil || ck.Value != "s3cr3t" {
			writeJSON(w, http.StatusForbidden, tokenservice.APIError{Code: tokenservice.CodeUnauthorized, Message: "sign in first"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := newClient(t, mux)
	ctx := context.Background()
	proof := tokenservice.SocialProof{Provider: social.Facebook, SubjectID: "s1", Token: "t"}

	err := c.LinkSocialAccount(ctx, proof)
	var apiErr *tokenservice.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, tokenservice.CodeUnauthorized, apiErr.Code)

	_, err = c.SignIn(ctx, "a@b.com", "validpass")
	require.NoError(t, err)
	assert.NoError(t, c.LinkSocialAccount(ctx, proof))
}

func TestClient_RecoverPassword(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenservice.RecoverRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch req.Email {
		case "locked@b.com":
			writeJSON(w, http.StatusForbidden, tokenservice.APIError{Code: tokenservice.CodeAdminLocked, Message: "locked"})
		case "plain@b.com":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		default:
			writeJSON(w, http.StatusOK, tokenservice.RecoverResponse{OneTimePassword: "123456"})
		}
	}))
	ctx := context.Background()

	otp, err := c.RecoverPassword(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", otp)

	_, err = c.RecoverPassword(ctx, "locked@b.com")
	var apiErr *tokenservice.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, tokenservice.CodeAdminLocked, apiErr.Code)

	_, err = c.RecoverPassword(ctx, "plain@b.com")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		first     func(w http.ResponseWriter)
		wantCalls int32
		wantErr   bool
	}{
		{
			name: "dropped connection is retried",
			first: func(w http.ResponseWriter) {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					_ = conn.Close()
				}
			},
			wantCalls: 2,
		},
		{
			name:      "rate limit is retried",
			first:     func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) },
			wantCalls: 2,
		},
		{
			name:      "server error is not resent",
			first:     func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) },
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					tt.first(w)
					return
				}
				writeJSON(w, http.StatusOK, tokenservice.SignResult{UserID: "u1"})
			}))
			t.Cleanup(srv.Close)

			c, err := tokenservice.New(tokenservice.Config{BaseURL: srv.URL, RetryMax: 2}, nil)
			require.NoError(t, err)

			res, err := c.SignIn(context.Background(), "a@b.com", "validpass")
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				var apiErr *tokenservice.APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", res.UserID)
		})
	}
}
