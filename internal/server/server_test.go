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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facturio/efactura/internal/models"
	"github.com/facturio/efactura/internal/runlock"
	"github.com/facturio/efactura/internal/sync"
	"github.com/facturio/efactura/internal/vault"
)

type mockVault struct {
	authURL     string
	completeErr error
	status      vault.Status
	gotCode     string
}

func (m *mockVault) BeginAuthorization() (string, error) { return m.authURL, nil }

func (m *mockVault) CompleteAuthorization(_ context.Context, code string) error {
	m.gotCode = code
	return m.completeErr
}

func (m *mockVault) ConnectionStatus(context.Context) (vault.Status, error) {
	return m.status, nil
}

type mockSyncer struct {
	report      sync.Report
	runErr      error
	retryStatus models.MessageStatus
	retryErr    error
	retriedID   int64
}

func (m *mockSyncer) RunSync(context.Context) (sync.Report, error) {
	return m.report, m.runErr
}

func (m *mockSyncer) Retry(_ context.Context, id int64) (models.MessageStatus, error) {
	m.retriedID = id
	return m.retryStatus, m.retryErr
}

type mockLock struct {
	held     bool
	acquires int
	releases int
}

func (m *mockLock) Acquire(context.Context) error {
	m.acquires++
	if m.held {
		return runlock.ErrAlreadyRunning
	}
	m.held = true
	return nil
}

func (m *mockLock) Release(context.Context) error {
	m.releases++
	m.held = false
	return nil
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestConnect(t *testing.T) {
	v := &mockVault{authURL: "https://auth.example.com/authorize?client_id=x"}
	h := NewHandler(v, &mockSyncer{}, &mockLock{}, nil)

	rec := serve(h, http.MethodPost, "/api/connect")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["authorization_url"] != v.authURL {
		t.Errorf("body = %v", body)
	}
}

func TestCallback(t *testing.T) {
	v := &mockVault{}
	h := NewHandler(v, &mockSyncer{}, &mockLock{}, nil)

	rec := serve(h, http.MethodGet, "/api/oauth/callback?code=auth-code-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if v.gotCode != "auth-code-123" {
		t.Errorf("code = %q", v.gotCode)
	}
}

func TestCallback_ValidationError(t *testing.T) {
	v := &mockVault{completeErr: &vault.ValidationError{Reason: "authorization code is empty"}}
	h := NewHandler(v, &mockSyncer{}, &mockLock{}, nil)

	rec := serve(h, http.MethodGet, "/api/oauth/callback")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	v := &mockVault{status: vault.Status{Connected: true, ExpiresAt: time.Now().Add(time.Hour)}}
	h := NewHandler(v, &mockSyncer{}, &mockLock{}, nil)

	rec := serve(h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status vault.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Connected {
		t.Error("connected = false")
	}
}

func TestSync_AcquiresAndReleasesLock(t *testing.T) {
	lock := &mockLock{}
	s := &mockSyncer{report: sync.Report{NewMessages: 3, Processed: 2, Errors: 1}}
	h := NewHandler(&mockVault{}, s, lock, nil)

	rec := serve(h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if lock.acquires != 1 || lock.releases != 1 {
		t.Errorf("lock acquires/releases = %d/%d, want 1/1", lock.acquires, lock.releases)
	}

	var report sync.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report != s.report {
		t.Errorf("report = %+v", report)
	}
}

func TestSync_ConflictWhileRunning(t *testing.T) {
	lock := &mockLock{held: true}
	h := NewHandler(&mockVault{}, &mockSyncer{}, lock, nil)

	rec := serve(h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if lock.releases != 0 {
		t.Errorf("releases = %d, want none when acquire failed", lock.releases)
	}
}

func TestSync_ReauthorizationRequired(t *testing.T) {
	s := &mockSyncer{runErr: vault.ErrReauthorizationRequired}
	h := NewHandler(&mockVault{}, s, &mockLock{}, nil)

	rec := serve(h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["reauthorization_required"] != "true" {
		t.Errorf("body = %v, want reauthorization flag", body)
	}
}

func TestRetry(t *testing.T) {
	s := &mockSyncer{retryStatus: models.StatusCompleted}
	h := NewHandler(&mockVault{}, s, &mockLock{}, nil)

	rec := serve(h, http.MethodPost, "/api/messages/42/retry")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if s.retriedID != 42 {
		t.Errorf("retried id = %d", s.retriedID)
	}
}

func TestRetry_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", sync.ErrMessageNotFound, http.StatusNotFound},
		{"already completed", sync.ErrAlreadyCompleted, http.StatusConflict},
		{"not retryable", sync.ErrNotRetryable, http.StatusConflict},
		{"internal", errors.New("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSyncer{retryErr: tt.err}
			h := NewHandler(&mockVault{}, s, &mockLock{}, nil)

			rec := serve(h, http.MethodPost, "/api/messages/1/retry")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRetry_InvalidID(t *testing.T) {
	h := NewHandler(&mockVault{}, &mockSyncer{}, &mockLock{}, nil)
	rec := serve(h, http.MethodPost, "/api/messages/not-a-number/retry")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	healthy := NewHandler(&mockVault{}, &mockSyncer{}, &mockLock{}, func(context.Context) error { return nil })
	if rec := serve(healthy, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	down := NewHandler(&mockVault{}, &mockSyncer{}, &mockLock{}, func(context.Context) error {
		return errors.New("redis unreachable")
	})
	if rec := serve(down, http.MethodGet, "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}
