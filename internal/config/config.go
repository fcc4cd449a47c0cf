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

// Package config loads configuration from config.yaml and environment
// variables. A local .env file, when present, is loaded first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for the national e-invoicing authority endpoints.
const (
	defaultAuthEndpoint  = "https://logincert.anaf.ro/anaf-oauth2/v1/authorize"
	defaultTokenEndpoint = "https://logincert.anaf.ro/anaf-oauth2/v1/token"
	defaultAPIBaseURL    = "https://api.anaf.ro/prod/FCTEL/rest"
)

// Config holds all settings for the ingestion service.
type Config struct {
	// Authority connection
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AuthEndpoint  string
	TokenEndpoint string
	APIBaseURL    string
	TaxID         string
	LookbackDays  int

	// Token encryption key, hex-encoded 32 bytes.
	EncryptionKey string

	// Infrastructure
	DatabaseURL    string
	RedisURL       string
	InvoicesQueue  string
	RequestTimeout time.Duration

	// SyncInterval enables the periodic sync trigger in cmd/server when
	// non-zero. The orchestrator itself never self-schedules.
	SyncInterval time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	ANAF struct {
		ClientID      string `yaml:"client_id"`
		ClientSecret  string `yaml:"client_secret"`
		RedirectURI   string `yaml:"redirect_uri"`
		AuthEndpoint  string `yaml:"auth_endpoint"`
		TokenEndpoint string `yaml:"token_endpoint"`
		APIBaseURL    string `yaml:"api_base_url"`
		TaxID         string `yaml:"tax_id"`
		LookbackDays  int    `yaml:"lookback_days"`
	} `yaml:"anaf"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Invoices string `yaml:"invoices"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	// Optional; a missing .env is fine.
	_ = godotenv.Load()

	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		ClientID:       raw.ANAF.ClientID,
		ClientSecret:   raw.ANAF.ClientSecret,
		RedirectURI:    raw.ANAF.RedirectURI,
		AuthEndpoint:   firstNonEmpty(raw.ANAF.AuthEndpoint, defaultAuthEndpoint),
		TokenEndpoint:  firstNonEmpty(raw.ANAF.TokenEndpoint, defaultTokenEndpoint),
		APIBaseURL:     firstNonEmpty(raw.ANAF.APIBaseURL, defaultAPIBaseURL),
		TaxID:          firstNonEmpty(raw.ANAF.TaxID, os.Getenv("ANAF_TAX_ID")),
		LookbackDays:   raw.ANAF.LookbackDays,
		EncryptionKey:  envOrDefault("ENCRYPTION_KEY", ""),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:       firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		InvoicesQueue:  firstNonEmpty(raw.Redis.Queues.Invoices, envOrDefault("INVOICES_QUEUE", "invoices")),
		RequestTimeout: envOrDefaultDuration("REQUEST_TIMEOUT", 30*time.Second),
		SyncInterval:   envOrDefaultDuration("SYNC_INTERVAL", 0),
		Port:           envOrDefaultInt("PORT", 8080),
	}

	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = envOrDefaultInt("LOOKBACK_DAYS", 60)
	}

	var missing []string
	if cfg.TaxID == "" {
		missing = append(missing, "anaf.tax_id")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "database.url")
	}
	if cfg.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
