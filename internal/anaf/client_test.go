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

package anaf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facturio/efactura/internal/models"
)

const listBody = `{
  "mesaje": [
    {
      "id_descarcare": "3001234567",
      "cui_emitent": "1234567",
      "titlu": "Factura cu id_incarcare=5001 emisa de cui_emitent=1234567",
      "tip": "FACTURA PRIMITA",
      "data_creare": "202403151430",
      "serial": "1234abcd",
      "detalii": "Factura inregistrata in sistem"
    },
    {
      "id_descarcare": "3001234568",
      "cui_emitent": "7654321",
      "titlu": "Erori la factura",
      "tip": "ERORI FACTURA",
      "data_creare": "not-a-timestamp",
      "serial": "",
      "detalii": ""
    }
  ]
}`

func TestListMessages(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listaMesajeFactura" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listBody))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 5*time.Second)
	msgs, err := c.ListMessages(context.Background(), "bearer-token", "7654321", 30)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if gotAuth != "Bearer bearer-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "cui=7654321&zile=30" {
		t.Errorf("query = %q", gotQuery)
	}

	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	first := msgs[0]
	if first.ExternalID != "3001234567" || first.IssuerTaxID != "1234567" {
		t.Errorf("first = %+v", first)
	}
	if first.Kind != models.KindReceivedInvoice {
		t.Errorf("kind = %q", first.Kind)
	}
	want := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	if !first.CreatedAt.Equal(want) {
		t.Errorf("created = %v, want %v", first.CreatedAt, want)
	}

	// A bad timestamp keeps the message, with a zero creation time.
	second := msgs[1]
	if second.Kind != models.KindErrorNotice || !second.CreatedAt.IsZero() {
		t.Errorf("second = %+v", second)
	}
}

func TestListMessages_ClampsLookback(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("zile"))
		_, _ = w.Write([]byte(`{"mesaje":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 5*time.Second)
	for _, days := range []int{0, -5, 120} {
		if _, err := c.ListMessages(context.Background(), "t", "1", days); err != nil {
			t.Fatalf("ListMessages(%d): %v", days, err)
		}
	}
	for i, q := range queries {
		if q != "60" {
			t.Errorf("request %d: zile = %s, want clamped to 60", i, q)
		}
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/descarcare" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("id") != "3001234567" {
			t.Errorf("id = %q", r.URL.Query().Get("id"))
		}
		_, _ = w.Write([]byte(`<Invoice><ID>F1</ID></Invoice>`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 5*time.Second)
	body, err := c.Download(context.Background(), "t", "3001234567")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(body) != `<Invoice><ID>F1</ID></Invoice>` {
		t.Errorf("body = %s", body)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"eroare":"drept de acces lipsa"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 5*time.Second)
	_, err := c.ListMessages(context.Background(), "t", "1", 10)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", statusErr.StatusCode)
	}
	if statusErr.Body == "" {
		t.Error("body not captured for diagnostics")
	}
}
