package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gelozr/signin/backend"
	"github.com/gelozr/signin/hash"
	"github.com/gelozr/signin/social"
)

func newUsers(t *testing.T) *backend.MemoryUserProvider {
	t.Helper()

	m, err := hash.New(hash.Bcrypt)
	require.NoError(t, err)
	m.Extend(hash.Bcrypt, hash.BcryptHasher{Cost: bcrypt.MinCost})

	return backend.NewMemoryUserProvider(m)
}

func TestMemoryUserProvider_Credentials(t *testing.T) {
	ctx := context.Background()
	p := newUsers(t)

	u, err := p.Register(ctx, " A@B.com ", "validpass")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", u.Email)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "validpass", u.PasswordHash)
	assert.NotEmpty(t, u.RecoverySecret)

	_, err = p.Register(ctx, "a@b.com", "otherpass")
	assert.ErrorIs(t, err, backend.ErrUserAlreadyExists)

	tests := []struct {
		name    string
		creds   backend.PasswordCredentials
		wantErr error
	}{
		{name: "match", creds: backend.PasswordCredentials{Email: "a@b.com", Password: "validpass"}},
		{name: "email case", creds: backend.PasswordCredentials{Email: "A@B.COM", Password: "validpass"}},
		{name: "wrong password", creds: backend.PasswordCredentials{Email: "a@b.com", Password: "nope123"}, wantErr: backend.ErrIncorrectPassword},
		{name: "unknown user", creds: backend.PasswordCredentials{Email: "x@y.com", Password: "validpass"}, wantErr: backend.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.FindByCredentials(ctx, tt.creds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)
		})
	}

	require.NoError(t, p.SetPassword(ctx, "a@b.com", "newpass1"))
	_, err = p.FindByCredentials(ctx, backend.PasswordCredentials{Email: "a@b.com", Password: "newpass1"})
	assert.NoError(t, err)
}

func TestMemoryUserProvider_Social(t *testing.T) {
	ctx := context.Background()
	p := newUsers(t)

	alice, err := p.Register(ctx, "alice@b.com", "validpass")
	require.NoError(t, err)
	bob, err := p.Register(ctx, "bob@b.com", "validpass")
	require.NoError(t, err)

	creds := backend.SocialCredentials{Provider: social.Facebook, SubjectID: "fb-1"}

	_, err = p.FindBySocial(ctx, creds)
	assert.ErrorIs(t, err, backend.ErrSocialNotLinked)

	require.NoError(t, p.LinkSocial(ctx, alice.ID, creds))
	require.NoError(t, p.LinkSocial(ctx, alice.ID, creds), "relinking to the same user is a no-op")

	got, err := p.FindBySocial(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	assert.ErrorIs(t, p.LinkSocial(ctx, bob.ID, creds), backend.ErrSocialLinkTaken)
	assert.ErrorIs(t, p.LinkSocial(ctx, "missing", creds), backend.ErrUserNotFound)

	_, err = p.FindBySocial(ctx, backend.SocialCredentials{Provider: social.Google, SubjectID: "fb-1"})
	assert.ErrorIs(t, err, backend.ErrSocialNotLinked, "links are per provider")
}

func TestMemoryUserProvider_Lock(t *testing.T) {
	ctx := context.Background()
	p := newUsers(t)

	_, err := p.Register(ctx, "a@b.com", "validpass")
	require.NoError(t, err)

	require.NoError(t, p.SetLocked(ctx, "a@b.com", true))
	u, err := p.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, u.Locked)

	assert.ErrorIs(t, p.SetLocked(ctx, "x@y.com", true), backend.ErrUserNotFound)
}
