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

// SupplierDirectory is the Postgres-backed supplier lookup. The directory
// itself (CRUD, dedup) is owned elsewhere; ingestion only reads it.
type SupplierDirectory struct {
	pool *pgxpool.Pool
}

// NewSupplierDirectory creates the directory view and ensures its table
// exists.
func NewSupplierDirectory(ctx context.Context, pool *pgxpool.Pool) (*SupplierDirectory, error) {
	d := &SupplierDirectory{pool: pool}
	if err := d.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure supplier schema: %w", err)
	}
	slog.Info("supplier directory initialised")
	return d, nil
}

func (d *SupplierDirectory) ensureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS suppliers (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			fiscal_code TEXT NOT NULL,
			address     TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_suppliers_fiscal ON suppliers(UPPER(fiscal_code));
	`)
	return err
}

// FindByFiscalCode returns the first supplier whose stored fiscal code
// matches the normalized input, tolerating an optional RO prefix and casing
// on the stored side. Returns nil when there is no match.
func (d *SupplierDirectory) FindByFiscalCode(ctx context.Context, normalized string) (*models.Supplier, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, fiscal_code, address
		FROM suppliers
		WHERE UPPER(TRIM(fiscal_code)) = $1
		   OR UPPER(TRIM(fiscal_code)) = 'RO' || $1
		ORDER BY id
		LIMIT 1
	`, normalized)

	var s models.Supplier
	err := row.Scan(&s.ID, &s.Name, &s.FiscalCode, &s.Address)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
