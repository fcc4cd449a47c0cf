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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/efactura/internal/models"
)

// AuditStore is the append-only sink for run-level audit entries.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates the audit store and ensures its table exists.
func NewAuditStore(ctx context.Context, pool *pgxpool.Pool) (*AuditStore, error) {
	s := &AuditStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *AuditStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id         BIGSERIAL PRIMARY KEY,
			type       TEXT NOT NULL,
			action     TEXT NOT NULL,
			message    TEXT NOT NULL,
			details    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	`)
	return err
}

// Append writes one audit entry. Entries are never updated or deleted.
func (s *AuditStore) Append(ctx context.Context, e models.AuditEntry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (type, action, message, details)
		VALUES ($1, $2, $3, $4)
	`, e.Type, e.Action, e.Message, details)
	return err
}
