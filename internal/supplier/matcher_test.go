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

package supplier

import (
	"context"
	"errors"
	"testing"

	"github.com/facturio/efactura/internal/models"
)

type memDirectory struct {
	byCode  map[string]*models.Supplier
	err     error
	lookups []string
}

func (d *memDirectory) FindByFiscalCode(_ context.Context, normalized string) (*models.Supplier, error) {
	d.lookups = append(d.lookups, normalized)
	if d.err != nil {
		return nil, d.err
	}
	return d.byCode[normalized], nil
}

func TestNormalizeTaxID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"RO1234567", "1234567"},
		{"ro1234567", "1234567"},
		{"  RO 1234567 ", "1234567"},
		{"1234567", "1234567"},
		{"RO", ""},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTaxID(tt.raw); got != tt.want {
			t.Errorf("NormalizeTaxID(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	dir := &memDirectory{byCode: map[string]*models.Supplier{
		"1234567": {ID: 1, Name: "Furnizor SRL", FiscalCode: "RO1234567"},
	}}
	m := NewMatcher(dir)

	// Prefixed and bare forms resolve to the same supplier.
	for _, raw := range []string{"RO1234567", "1234567", " ro1234567 "} {
		sup, err := m.Resolve(context.Background(), raw)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", raw, err)
		}
		if sup == nil || sup.ID != 1 {
			t.Errorf("Resolve(%q) = %+v, want supplier 1", raw, sup)
		}
	}

	sup, err := m.Resolve(context.Background(), "RO9999999")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sup != nil {
		t.Errorf("Resolve(unknown) = %+v, want nil", sup)
	}
}

func TestResolve_EmptyTaxIDSkipsLookup(t *testing.T) {
	dir := &memDirectory{byCode: map[string]*models.Supplier{}}
	m := NewMatcher(dir)

	for _, raw := range []string{"", "   ", "RO"} {
		sup, err := m.Resolve(context.Background(), raw)
		if err != nil || sup != nil {
			t.Errorf("Resolve(%q) = %+v, %v, want nil, nil", raw, sup, err)
		}
	}
	if len(dir.lookups) != 0 {
		t.Errorf("lookups = %v, want none for empty tax ids", dir.lookups)
	}
}

func TestResolve_DirectoryError(t *testing.T) {
	wantErr := errors.New("connection lost")
	m := NewMatcher(&memDirectory{err: wantErr})

	if _, err := m.Resolve(context.Background(), "RO1"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want directory error surfaced", err)
	}
}
