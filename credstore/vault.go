package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "modernc.org/sqlite"
)

type VaultConfig struct {
	// Path of the SQLite database. Empty disables the vault.
	Path string `yaml:"path" env:"SIGNIN_VAULT_PATH"`

	// ConfirmSaves makes new or changed credentials wait for the user.
	ConfirmSaves bool `yaml:"confirm_saves" env:"SIGNIN_VAULT_CONFIRM_SAVES" env-default:"true"`
}

// Vault is a Platform backed by a local SQLite database.
type Vault struct {
	db           *sql.DB
	confirmSaves bool
	now          func() time.Time
}

var _ Platform = (*Vault)(nil)

const vaultSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	email      TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

func OpenVault(ctx context.Context, cfg VaultConfig) (*Vault, error) {
	if cfg.Path == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, vaultSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vault schema: %w", err)
	}

	return &Vault{db: db, confirmSaves: cfg.ConfirmSaves, now: time.Now}, nil
}

func (v *Vault) Close() error {
	return v.db.Close()
}

func (v *Vault) Request(ctx context.Context) (Credentials, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT email, password FROM credentials ORDER BY updated_at DESC, email`)
	if err != nil {
		return Credentials{}, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var all []Credentials
	for rows.Next() {
		var c Credentials
		if err := rows.Scan(&c.Email, &c.Password); err != nil {
			return Credentials{}, fmt.Errorf("scan credentials: %w", err)
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return Credentials{}, fmt.Errorf("iterate credentials: %w", err)
	}

	switch len(all) {
	case 0:
		return Credentials{}, ErrNoCredentials
	case 1:
		return all[0], nil
	}

	accounts := make([]string, len(all))
	for i, c := range all {
		accounts[i] = c.Email
	}
	return Credentials{}, &ResolutionError{Op: OpQuery, Accounts: accounts}
}

func (v *Vault) Save(ctx context.Context, creds Credentials) error {
	stored, err := v.lookup(ctx, creds.Email)
	switch {
	case err == nil && stored.Password == creds.Password:
		return v.upsert(ctx, creds)
	case err != nil && !errors.Is(err, ErrNoCredentials):
		return err
	}

	if v.confirmSaves {
		return &ResolutionError{Op: OpSave, Accounts: []string{creds.Email}, Pending: creds}
	}
	return v.upsert(ctx, creds)
}

func (v *Vault) Resolve(ctx context.Context, rerr *ResolutionError, outcome Outcome) (Credentials, error) {
	if !outcome.Accepted {
		return Credentials{}, ErrResolutionDenied
	}

	switch rerr.Op {
	case OpQuery:
		if !slices.Contains(rerr.Accounts, outcome.Email) {
			return Credentials{}, fmt.Errorf("%w: %q was not offered", ErrNoCredentials, outcome.Email)
		}
		return v.lookup(ctx, outcome.Email)
	case OpSave:
		if err := v.upsert(ctx, rerr.Pending); err != nil {
			return Credentials{}, err
		}
		return rerr.Pending, nil
	}

	return Credentials{}, fmt.Errorf("resolve: unknown op %q", rerr.Op)
}

// Forget removes the saved credential for email.
func (v *Vault) Forget(ctx context.Context, email string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM credentials WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (v *Vault) lookup(ctx context.Context, email string) (Credentials, error) {
	c := Credentials{Email: email}
	err := v.db.QueryRowContext(ctx, `SELECT password FROM credentials WHERE email = ?`, email).Scan(&c.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("lookup credentials: %w", err)
	}
	return c, nil
}

func (v *Vault) upsert(ctx context.Context, creds Credentials) error {
	_, err := v.db.ExecContext(ctx, `
INSERT INTO credentials (email, password, updated_at) VALUES (?, ?, ?)
ON CONFLICT(email) DO UPDATE SET password = excluded.password, updated_at = excluded.updated_at`,
		creds.Email, creds.Password, v.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
