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

// Package supplier resolves a decoded invoice's tax id to a locally known
// supplier.
package supplier

import (
	"context"
	"strings"

	"github.com/facturio/efactura/internal/models"
)

// countryPrefix is the optional fiscal-code country prefix tolerated on both
// sides of a comparison.
const countryPrefix = "RO"

// Directory looks up suppliers by normalized fiscal code.
type Directory interface {
	FindByFiscalCode(ctx context.Context, normalized string) (*models.Supplier, error)
}

// NormalizeTaxID strips surrounding whitespace and an optional leading
// country prefix, and upper-cases the rest.
func NormalizeTaxID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, countryPrefix)
	return strings.TrimSpace(s)
}

// Matcher resolves tax ids against the supplier directory.
type Matcher struct {
	dir Directory
}

// NewMatcher creates a matcher over the given directory.
func NewMatcher(dir Directory) *Matcher {
	return &Matcher{dir: dir}
}

// Resolve returns the first supplier whose fiscal code matches the tax id
// under prefix- and case-tolerance, or nil when there is none. Fiscal codes
// are treated as unique, but the contract does not assume the store enforces
// that — the first match wins.
func (m *Matcher) Resolve(ctx context.Context, taxID string) (*models.Supplier, error) {
	normalized := NormalizeTaxID(taxID)
	if normalized == "" {
		return nil, nil
	}
	return m.dir.FindByFiscalCode(ctx, normalized)
}
