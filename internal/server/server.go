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

// Package server exposes the externally triggered entry points over HTTP:
// the interactive authorization flow, manual sync runs, per-message retry,
// and the connection status view.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/facturio/efactura/internal/models"
	"github.com/facturio/efactura/internal/runlock"
	"github.com/facturio/efactura/internal/sync"
	"github.com/facturio/efactura/internal/vault"
)

// VaultAPI is the credential lifecycle surface the handlers need.
type VaultAPI interface {
	BeginAuthorization() (string, error)
	CompleteAuthorization(ctx context.Context, code string) error
	ConnectionStatus(ctx context.Context) (vault.Status, error)
}

// Syncer runs sync passes and retries. Implemented by sync.Orchestrator.
type Syncer interface {
	RunSync(ctx context.Context) (sync.Report, error)
	Retry(ctx context.Context, messageID int64) (models.MessageStatus, error)
}

// Locker serializes sync runs. Implemented by runlock.Lock.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Handler wires the HTTP surface.
type Handler struct {
	vault  VaultAPI
	syncer Syncer
	lock   Locker
	health func(ctx context.Context) error
}

// NewHandler creates the HTTP handler. health may be nil; lock may be nil
// when the caller serializes runs some other way.
func NewHandler(v VaultAPI, s Syncer, lock Locker, health func(ctx context.Context) error) *Handler {
	return &Handler{vault: v, syncer: s, lock: lock, health: health}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/connect", h.handleConnect)
		r.Get("/oauth/callback", h.handleCallback)
		r.Get("/status", h.handleStatus)
		r.Post("/sync", h.handleSync)
		r.Post("/messages/{id}/retry", h.handleRetry)
	})

	return r
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	url, err := h.vault.BeginAuthorization()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if err := h.vault.CompleteAuthorization(r.Context(), code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.vault.ConnectionStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.lock != nil {
		if err := h.lock.Acquire(ctx); err != nil {
			h.writeError(w, err)
			return
		}
		defer func() {
			if err := h.lock.Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("run lock release failed", "error", err)
			}
		}()
	}

	report, err := h.syncer.RunSync(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message id"})
		return
	}

	status, err := h.syncer.Retry(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "status": status})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeError maps domain failures onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *vault.ValidationError
		configErr     *vault.ConfigError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	case errors.Is(err, sync.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, sync.ErrAlreadyCompleted),
		errors.Is(err, sync.ErrNotRetryable),
		errors.Is(err, runlock.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, vault.ErrReauthorizationRequired),
		errors.Is(err, vault.ErrNotConnected):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":                    err.Error(),
			"reauthorization_required": "true",
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
