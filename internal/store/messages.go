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

// Package store provides the Postgres-backed persistence for inbound
// messages, materialized invoices, the supplier directory, and the
// append-only audit log.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/efactura/internal/models"
)

// MessageStore persists inbound messages, unique on the provider-assigned
// external id.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates the message store and ensures its table exists.
func NewMessageStore(ctx context.Context, pool *pgxpool.Pool) (*MessageStore, error) {
	s := &MessageStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure message schema: %w", err)
	}
	slog.Info("message store initialised")
	return s, nil
}

func (s *MessageStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inbound_messages (
			id                BIGSERIAL PRIMARY KEY,
			external_id       TEXT NOT NULL UNIQUE,
			issuer_tax_id     TEXT NOT NULL DEFAULT '',
			title             TEXT NOT NULL DEFAULT '',
			kind              TEXT NOT NULL,
			created_by_issuer TIMESTAMPTZ,
			detail            TEXT NOT NULL DEFAULT '',
			downloaded        BOOLEAN NOT NULL DEFAULT FALSE,
			status            TEXT NOT NULL DEFAULT 'UNPROCESSED',
			processing_error  TEXT,
			invoice_id        BIGINT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_status ON inbound_messages(status);
		CREATE INDEX IF NOT EXISTS idx_messages_kind ON inbound_messages(kind);
	`)
	return err
}

// Create inserts a new message with status UNPROCESSED. A concurrent or
// repeated insert for the same external id is absorbed by the unique index:
// the existing row is returned and created is false.
func (s *MessageStore) Create(ctx context.Context, m *models.InboundMessage) (created bool, err error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_messages
			(external_id, issuer_tax_id, title, kind, created_by_issuer, detail, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at
	`, m.ExternalID, m.IssuerTaxID, m.Title, m.Kind, nullableTime(m.CreatedByIssuer),
		m.Detail, models.StatusUnprocessed)

	err = row.Scan(&m.ID, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		existing, gerr := s.GetByExternalID(ctx, m.ExternalID)
		if gerr != nil {
			return false, gerr
		}
		if existing != nil {
			*m = *existing
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.Status = models.StatusUnprocessed
	return true, nil
}

// GetByExternalID returns a message by its provider-assigned id, or nil.
func (s *MessageStore) GetByExternalID(ctx context.Context, externalID string) (*models.InboundMessage, error) {
	row := s.pool.QueryRow(ctx, selectMessage+`WHERE external_id = $1`, externalID)
	return scanMessage(row)
}

// GetByID returns a message by local id, or nil.
func (s *MessageStore) GetByID(ctx context.Context, id int64) (*models.InboundMessage, error) {
	row := s.pool.QueryRow(ctx, selectMessage+`WHERE id = $1`, id)
	return scanMessage(row)
}

// MarkDownloaded flags that the message body has been fetched at least once.
func (s *MessageStore) MarkDownloaded(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET downloaded = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// SetStatus records the processing outcome of one message. Status
// transitions are the only mutation a message sees after creation.
func (s *MessageStore) SetStatus(ctx context.Context, id int64, status models.MessageStatus, processingError *string, invoiceID *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET status = $1, processing_error = $2, invoice_id = $3, updated_at = NOW()
		WHERE id = $4
	`, status, processingError, invoiceID, id)
	return err
}

const selectMessage = `
	SELECT id, external_id, issuer_tax_id, title, kind, created_by_issuer,
	       detail, downloaded, status, processing_error, invoice_id,
	       created_at, updated_at
	FROM inbound_messages
`

func scanMessage(row pgx.Row) (*models.InboundMessage, error) {
	var m models.InboundMessage
	var createdByIssuer *time.Time
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.IssuerTaxID, &m.Title, &m.Kind, &createdByIssuer,
		&m.Detail, &m.Downloaded, &m.Status, &m.ProcessingError, &m.InvoiceID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdByIssuer != nil {
		m.CreatedByIssuer = *createdByIssuer
	}
	return &m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
