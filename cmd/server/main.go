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

// e-Factura Ingestion Service
//
// Entry point for the ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Initialises the credential vault, stores, and sync orchestrator
//  4. Serves the operator HTTP surface (connect, sync, retry, status)
//  5. Optionally triggers periodic sync runs at SYNC_INTERVAL
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/facturio/efactura/internal/anaf"
	"github.com/facturio/efactura/internal/codec"
	"github.com/facturio/efactura/internal/config"
	"github.com/facturio/efactura/internal/cryptox"
	"github.com/facturio/efactura/internal/queue"
	"github.com/facturio/efactura/internal/runlock"
	"github.com/facturio/efactura/internal/server"
	"github.com/facturio/efactura/internal/store"
	"github.com/facturio/efactura/internal/supplier"
	syncpkg "github.com/facturio/efactura/internal/sync"
	"github.com/facturio/efactura/internal/vault"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting e-factura ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tax_id", cfg.TaxID,
		"lookback_days", cfg.LookbackDays,
		"sync_interval", cfg.SyncInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.InvoicesQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
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

	// --- Credential Vault ---
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

	// --- Orchestrator ---
	authority := anaf.NewClient(httpClient, cfg.APIBaseURL, cfg.RequestTimeout)
	orchestrator := syncpkg.New(syncpkg.Config{
		Tokens:       credVault,
		Authority:    authority,
		Messages:     messageStore,
		Invoices:     invoiceStore,
		Matcher:      supplier.NewMatcher(directory),
		Audit:        auditStore,
		Publisher:    publisher,
		Decoder:      &codec.Decoder{},
		TaxID:        cfg.TaxID,
		LookbackDays: cfg.LookbackDays,
	})

	lock := runlock.NewLock(rdb)

	// --- Optional periodic sync trigger ---
	// The orchestrator never schedules itself; this loop is the caller.
	if cfg.SyncInterval > 0 {
		go runPeriodicSync(ctx, orchestrator, lock, cfg.SyncInterval)
	}

	// --- HTTP Surface ---
	health := func(ctx context.Context) error {
		if err := publisher.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	}
	handler := server.NewHandler(credVault, orchestrator, lock, health)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // sync runs respond inline
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}

// runPeriodicSync triggers a sync run at the configured interval, skipping a
// tick when another run still holds the lock.
func runPeriodicSync(ctx context.Context, orchestrator *syncpkg.Orchestrator, lock *runlock.Lock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("periodic sync enabled", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Acquire(ctx); err != nil {
				if errors.Is(err, runlock.ErrAlreadyRunning) {
					slog.Info("skipping periodic sync, run already in progress")
				} else {
					slog.Error("run lock acquire failed", "error", err)
				}
				continue
			}

			if _, err := orchestrator.RunSync(ctx); err != nil {
				slog.Error("periodic sync failed", "error", err)
			}

			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("run lock release failed", "error", err)
			}
		}
	}
}
