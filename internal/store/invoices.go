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
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/efactura/internal/models"
)

// InvoiceStore persists materialized invoices with their lines. Uniqueness
// on the source message id backs the "retry never duplicates an invoice"
// guarantee at the storage layer as well.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

// NewInvoiceStore creates the invoice store and ensures its tables exist.
func NewInvoiceStore(ctx context.Context, pool *pgxpool.Pool) (*InvoiceStore, error) {
	s := &InvoiceStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure invoice schema: %w", err)
	}
	slog.Info("invoice store initialised")
	return s, nil
}

func (s *InvoiceStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			id               BIGSERIAL PRIMARY KEY,
			message_id       BIGINT NOT NULL UNIQUE,
			supplier_id      BIGINT NOT NULL,
			supplier_name    TEXT NOT NULL,
			supplier_tax_id  TEXT NOT NULL,
			supplier_address TEXT NOT NULL DEFAULT '',
			buyer_name       TEXT NOT NULL DEFAULT '',
			buyer_tax_id     TEXT NOT NULL DEFAULT '',
			series           TEXT NOT NULL,
			number           TEXT NOT NULL,
			issue_date       DATE,
			due_date         DATE,
			currency         TEXT NOT NULL DEFAULT '',
			total            NUMERIC(14,2) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS invoice_lines (
			id         BIGSERIAL PRIMARY KEY,
			invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
			position   INT NOT NULL,
			product    TEXT NOT NULL,
			quantity   NUMERIC(14,4) NOT NULL,
			unit_code  TEXT NOT NULL,
			unit       TEXT NOT NULL,
			unit_price NUMERIC(14,4) NOT NULL,
			line_value NUMERIC(14,2) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines(invoice_id);
		CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_id);
	`)
	return err
}

// Insert writes the invoice and its lines in one transaction and returns the
// new invoice id.
func (s *InvoiceStore) Insert(ctx context.Context, inv *models.Invoice) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices
			(message_id, supplier_id, supplier_name, supplier_tax_id, supplier_address,
			 buyer_name, buyer_tax_id, series, number, issue_date, due_date, currency, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, inv.MessageID, inv.SupplierID, inv.SupplierName, inv.SupplierTaxID, inv.SupplierAddress,
		inv.BuyerName, inv.BuyerTaxID, inv.Series, inv.Number,
		nullableTime(inv.IssueDate), nullableTime(inv.DueDate), inv.Currency, inv.Total).Scan(&id)
	if err != nil {
		return 0, err
	}

	for i, line := range inv.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_lines
				(invoice_id, position, product, quantity, unit_code, unit, unit_price, line_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, i+1, line.Product, line.Quantity, line.UnitCode, line.Unit,
			line.UnitPrice, line.LineValue); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	inv.ID = id
	return id, nil
}

// GetByMessageID returns the invoice materialized from a message, or nil when
// none exists. Only the invoice header is loaded; lines stay in their table.
func (s *InvoiceStore) GetByMessageID(ctx context.Context, messageID int64) (*models.Invoice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, supplier_id, supplier_name, supplier_tax_id, supplier_address,
		       buyer_name, buyer_tax_id, series, number, currency, total, created_at
		FROM invoices
		WHERE message_id = $1
	`, messageID)

	var inv models.Invoice
	err := row.Scan(
		&inv.ID, &inv.MessageID, &inv.SupplierID, &inv.SupplierName, &inv.SupplierTaxID,
		&inv.SupplierAddress, &inv.BuyerName, &inv.BuyerTaxID, &inv.Series, &inv.Number,
		&inv.Currency, &inv.Total, &inv.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
