package hash_test

import (
	"errors"
	"testing"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"

	"github.com/gelozr/signin/hash"
)

// Cheap parameters keep the round trips fast.
var (
	fastBcrypt = hash.BcryptHasher{Cost: bcrypt.MinCost}
	fastArgon  = hash.Argon2IDHasher{Params: &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}}
)

func assertRoundTrip(t *testing.T, hasher hash.Hasher, password string) {
	t.Helper()

	hashed, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v, want nil", err)
	}

	ok, err := hasher.Check(password, hashed)
	if err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("Check() expected true, got false")
	}

	ok, err = hasher.Check("wrong password", hashed)
	if err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}
	if ok {
		t.Errorf("Check(wrong password) expected false, got true")
	}
}

func newManager(t *testing.T, def hash.Method) *hash.Manager {
	t.Helper()

	m, err := hash.New(def)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Extend(hash.Bcrypt, fastBcrypt)
	m.Extend(hash.Argon2ID, fastArgon)
	return m
}

func TestBcryptHasher_RoundTrip(t *testing.T) {
	assertRoundTrip(t, fastBcrypt, "123456")
}

func TestArgon2IDHasher_RoundTrip(t *testing.T) {
	assertRoundTrip(t, fastArgon, "123456")
}

type mockHasher struct {
	shouldFailHash  bool
	shouldFailCheck bool
	calledHash      bool
	calledCheck     bool
}

func (m *mockHasher) Hash(password string) (string, error) {
	m.calledHash = true

	if m.shouldFailHash {
		return "", errors.New("hash failed")
	}

	return "mock:" + password, nil
}

func (m *mockHasher) Check(password, hash string) (bool, error) {
	m.calledCheck = true

	if m.shouldFailCheck {
		return false, errors.New("check failed")
	}

	return "mock:"+password == hash, nil
}

func TestNew_UnknownDefault(t *testing.T) {
	_, err := hash.New("md5")
	if !errors.Is(err, hash.ErrHasherNotFound) {
		t.Errorf("New() error = %v, want %v", err, hash.ErrHasherNotFound)
	}
}

func TestManager_RoundTrip(t *testing.T) {
	for _, method := range []hash.Method{hash.Bcrypt, hash.Argon2ID} {
		t.Run(string(method), func(t *testing.T) {
			assertRoundTrip(t, newManager(t, method), "123456")
		})
	}
}

func TestManager_CheckAfterDefaultChange(t *testing.T) {
	m := newManager(t, hash.Bcrypt)

	hashed, err := m.Hash("secret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := m.SetDefault(hash.Argon2ID); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}

	ok, err := m.Check("secret", hashed)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !ok {
		t.Error("bcrypt hash no longer verifies after switching default to argon2id")
	}
}

func TestManager_Hasher(t *testing.T) {
	m := newManager(t, hash.Bcrypt)

	tests := []struct {
		name    string
		method  hash.Method
		wantErr bool
	}{
		{name: "hasher found", method: hash.Bcrypt},
		{name: "hasher not found", method: "not found hasher", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Hasher(tt.method)

			if (err != nil) != tt.wantErr {
				t.Errorf("Hasher() expected error = %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestManager_SetDefault(t *testing.T) {
	m := newManager(t, hash.Bcrypt)
	m.Extend("mock", &mockHasher{})

	tests := []struct {
		name    string
		method  hash.Method
		wantErr bool
	}{
		{name: "hasher found", method: hash.Method("mock")},
		{name: "hasher not found", method: hash.Method("not found hasher"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetDefault(tt.method)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetDefault() expected error = %v, got %v", tt.wantErr, err)
			}

			if tt.wantErr && !errors.Is(err, hash.ErrHasherNotFound) {
				t.Errorf("SetDefault() expected error = %v, got %v", hash.ErrHasherNotFound, err)
			}
		})
	}
}

func TestManager_HashWithCustomDefault(t *testing.T) {
	tests := []struct {
		name         string
		expectedHash string
		hasher       *mockHasher
	}{
		{name: "hash success", expectedHash: "mock:123456", hasher: &mockHasher{}},
		{name: "hash failed", expectedHash: "", hasher: &mockHasher{shouldFailHash: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, hash.Bcrypt)
			m.Extend("mock", tt.hasher)

			if err := m.SetDefault("mock"); err != nil {
				t.Fatalf("SetDefault() error = %v, want nil", err)
			}

			s, err := m.Hash("123456")
			if (err != nil) != tt.hasher.shouldFailHash {
				t.Errorf("Hash() expected error = %v, got %v", tt.hasher.shouldFailHash, err)
			}

			if !tt.hasher.calledHash {
				t.Errorf("mockHasher Hash() expected to be called")
			}

			if s != tt.expectedHash {
				t.Errorf("Hash() expected to return %s, got %s", tt.expectedHash, s)
			}

			ok, err := m.Check("123456", s)
			if !tt.hasher.shouldFailHash && (!ok || err != nil) {
				t.Errorf("Check() = %v, %v, want true, nil", ok, err)
			}
			if !tt.hasher.calledCheck {
				t.Errorf("mockHasher Check() expected to be called for unrecognised format")
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		hash    string
		want    hash.Method
		wantErr bool
	}{
		{hash: "$2a$10$abcdefghijklmnopqrstuv", want: hash.Bcrypt},
		{hash: "$2b$04$abcdefghijklmnopqrstuv", want: hash.Bcrypt},
		{hash: "$argon2id$v=19$m=65536,t=1,p=2$c2FsdA$a2V5", want: hash.Argon2ID},
		{hash: "mock:123456", wantErr: true},
		{hash: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.hash, func(t *testing.T) {
			got, err := hash.Identify(tt.hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Identify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Identify() = %q, want %q", got, tt.want)
			}
		})
	}
}
