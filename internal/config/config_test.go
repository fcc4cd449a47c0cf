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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoad(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "abc123")
	t.Setenv("ANAF_CLIENT_SECRET", "from-env")
	writeConfig(t, `
anaf:
  client_id: my-client
  client_secret: ${ANAF_CLIENT_SECRET}
  redirect_uri: https://app.example.com/oauth/callback
  tax_id: "7654321"
  lookback_days: 30
database:
  url: postgres://localhost/efactura
redis:
  url: redis://localhost:6379/1
  queues:
    invoices: invoices-test
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ClientID != "my-client" {
		t.Errorf("client id = %q", cfg.ClientID)
	}
	if cfg.ClientSecret != "from-env" {
		t.Errorf("client secret = %q, want env expansion", cfg.ClientSecret)
	}
	if cfg.TaxID != "7654321" || cfg.LookbackDays != 30 {
		t.Errorf("tax id/lookback = %q/%d", cfg.TaxID, cfg.LookbackDays)
	}
	if cfg.InvoicesQueue != "invoices-test" {
		t.Errorf("invoices queue = %q", cfg.InvoicesQueue)
	}

	// Endpoint defaults apply when the YAML stays silent.
	if !strings.Contains(cfg.AuthEndpoint, "logincert.anaf.ro") {
		t.Errorf("auth endpoint = %q, want default", cfg.AuthEndpoint)
	}
	if !strings.Contains(cfg.APIBaseURL, "api.anaf.ro") {
		t.Errorf("api base = %q, want default", cfg.APIBaseURL)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v, want default", cfg.RequestTimeout)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want default", cfg.Port)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("ANAF_TAX_ID", "")
	t.Setenv("DATABASE_URL", "")
	writeConfig(t, `
anaf:
  client_id: my-client
`)

	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without required settings")
	}
	for _, want := range []string{"anaf.tax_id", "database.url", "ENCRYPTION_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "abc123")
	t.Setenv("DATABASE_URL", "postgres://env/efactura")
	t.Setenv("ANAF_TAX_ID", "111222")
	t.Setenv("LOOKBACK_DAYS", "14")
	t.Setenv("SYNC_INTERVAL", "15m")
	t.Setenv("PORT", "9090")
	writeConfig(t, `
anaf:
  client_id: my-client
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TaxID != "111222" || cfg.DatabaseURL != "postgres://env/efactura" {
		t.Errorf("env fallbacks = %q/%q", cfg.TaxID, cfg.DatabaseURL)
	}
	if cfg.LookbackDays != 14 {
		t.Errorf("lookback = %d", cfg.LookbackDays)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("sync interval = %v", cfg.SyncInterval)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d", cfg.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with a missing config file")
	}
}
