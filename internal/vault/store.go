// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed credential repository. The delete-then-insert
// in Replace runs in one transaction, which is what keeps the 0-or-1 row
// invariant under concurrent callers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the credential store and ensures its table exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure credential schema: %w", err)
	}
	slog.Info("credential store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS credentials (
			id                 BIGSERIAL PRIMARY KEY,
			access_ciphertext  BYTEA NOT NULL,
			access_iv          BYTEA NOT NULL,
			refresh_ciphertext BYTEA NOT NULL,
			refresh_iv         BYTEA NOT NULL,
			access_expires_at  TIMESTAMPTZ NOT NULL,
			refresh_expires_at TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Replace swaps the singleton record in a single transaction.
func (s *Store) Replace(ctx context.Context, rec CredentialRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credentials
			(access_ciphertext, access_iv, refresh_ciphertext, refresh_iv,
			 access_expires_at, refresh_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.AccessCiphertext, rec.AccessIV, rec.RefreshCiphertext, rec.RefreshIV,
		rec.AccessExpiresAt, rec.RefreshExpiresAt, rec.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Current returns the stored credential, or nil when none exists.
func (s *Store) Current(ctx context.Context) (*CredentialRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT access_ciphertext, access_iv, refresh_ciphertext, refresh_iv,
		       access_expires_at, refresh_expires_at, updated_at
		FROM credentials
		LIMIT 1
	`)

	var rec CredentialRecord
	err := row.Scan(
		&rec.AccessCiphertext, &rec.AccessIV, &rec.RefreshCiphertext, &rec.RefreshIV,
		&rec.AccessExpiresAt, &rec.RefreshExpiresAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
