// Package db provides the Postgres connection, schema migration, and the
// credential store backing auth.Store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/streamhub/backend/auth"
	"github.com/onnwee/streamhub/backend/crypto"
)

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the encryptor from ENCRYPTION_KEY. If unset,
// credentials are stored in plaintext (encryption_version = 0).
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, credentials will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("credential encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection. The DSN comes from config.Load, which
// owns the DB_DSN default.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// CredentialStore persists per-(role, user_id) OAuth credential records,
// implementing auth.Store. At most one row per (role, user_id): Upsert
// replaces the whole record, rotating access and refresh tokens atomically.
type CredentialStore struct {
	DB *sql.DB
}

// Load returns the record for (role, userID), or nil when absent.
func (s *CredentialStore) Load(ctx context.Context, role auth.Role, userID string) (*auth.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scopes, COALESCE(encryption_version, 0)
		 FROM credentials WHERE role=$1 AND user_id=$2`, string(role), userID)
	rec := &auth.Record{Role: role, UserID: userID}
	var encVersion int
	var expiresAt sql.NullTime
	err := row.Scan(&rec.AccessToken, &rec.RefreshToken, &expiresAt, &rec.Scopes, &encVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return nil, fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return nil, fmt.Errorf("credential is encrypted but ENCRYPTION_KEY not configured")
		}
		if rec.AccessToken, err = enc.Open(rec.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if rec.RefreshToken, err = enc.Open(rec.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return rec, nil
}

// Upsert stores or replaces the record for (rec.Role, rec.UserID), encrypting
// token material when ENCRYPTION_KEY is configured.
func (s *CredentialStore) Upsert(ctx context.Context, rec *auth.Record) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encVersion := 0
	access, refresh := rec.AccessToken, rec.RefreshToken
	if enc != nil {
		encVersion = 1
		if access, err = enc.Seal(rec.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = enc.Seal(rec.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO credentials(role, user_id, access_token, refresh_token, expires_at, scopes, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		 ON CONFLICT(role, user_id) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scopes=EXCLUDED.scopes,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		string(rec.Role), rec.UserID, access, refresh, rec.ExpiresAt, rec.Scopes, encVersion)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// CountCredentials returns how many user credential rows exist; used by the
// readiness probe to tell an unauthorized deployment from a broken one.
func CountCredentials(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE role IN ('bot','broadcaster')`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

var _ auth.Store = (*CredentialStore)(nil)
