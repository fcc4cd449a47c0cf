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

// One-shot sync command. Runs a single synchronisation pass against the
// authority and exits; useful for cron-driven deployments and for seeding a
// new installation with a wider lookback window.
//
// Usage:
//
//	go run ./cmd/sync/ [--days 60]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/facturio/efactura/internal/anaf"
	"github.com/facturio/efactura/internal/codec"
	"github.com/facturio/efactura/internal/config"
	"github.com/facturio/efactura/internal/cryptox"
	"github.com/facturio/efactura/internal/queue"
	"github.com/facturio/efactura/internal/runlock"
	"github.com/facturio/efactura/internal/store"
	"github.com/facturio/efactura/internal/supplier"
	syncpkg "github.com/facturio/efactura/internal/sync"
	"github.com/facturio/efactura/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	daysFlag := flag.Int("days", 0, "Lookback window in days (default: configured value, max 60)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *daysFlag > 0 {
		cfg.LookbackDays = *daysFlag
	}

	ctx := context.Background()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	credStore, err := vault.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise credential store", "error", err)
		os.Exit(1)
	}
	messageStore, err := store.NewMessageStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise message store", "error", err)
		os.Exit(1)
	}
	invoiceStore, err := store.NewInvoiceStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise invoice store", "error", err)
		os.Exit(1)
	}
	directory, err := store.NewSupplierDirectory(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise supplier directory", "error", err)
		os.Exit(1)
	}
	auditStore, err := store.NewAuditStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise audit store", "error", err)
		os.Exit(1)
	}

	cipher, err := cryptox.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	credVault := vault.New(vault.Config{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		RedirectURI:   cfg.RedirectURI,
		AuthEndpoint:  cfg.AuthEndpoint,
		TokenEndpoint: cfg.TokenEndpoint,
	}, cipher, credStore, httpClient)

	orchestrator := syncpkg.New(syncpkg.Config{
		Tokens:       credVault,
		Authority:    anaf.NewClient(httpClient, cfg.APIBaseURL, cfg.RequestTimeout),
		Messages:     messageStore,
		Invoices:     invoiceStore,
		Matcher:      supplier.NewMatcher(directory),
		Audit:        auditStore,
		Publisher:    queue.NewPublisher(rdb, cfg.InvoicesQueue),
		Decoder:      &codec.Decoder{},
		TaxID:        cfg.TaxID,
		LookbackDays: cfg.LookbackDays,
	})

	lock := runlock.NewLock(rdb)
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, runlock.ErrAlreadyRunning) {
			slog.Error("another sync run is already in progress")
		} else {
			slog.Error("run lock acquire failed", "error", err)
		}
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			slog.Warn("run lock release failed", "error", err)
		}
	}()

	report, err := orchestrator.RunSync(ctx)
	if err != nil {
		slog.Error("sync run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("sync complete: %d new, %d processed, %d errors\n",
		report.NewMessages, report.Processed, report.Errors)
}
