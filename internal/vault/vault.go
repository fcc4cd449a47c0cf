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

// Package vault owns the single stored OAuth credential for the authority
// connection. It hands out a currently-valid bearer token, silently
// refreshing when the access token is near expiry, and drives the
// interactive authorization flow. Token material is AES-GCM encrypted at
// rest with a distinct IV per token; decrypted values never appear in logs,
// status objects, or error messages.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/facturio/efactura/internal/cryptox"
)

const (
	// SafetyMargin is subtracted from the provider-declared access token
	// lifetime so a token is never used mid-flight expiry.
	SafetyMargin = 60 * time.Second

	// RefreshHorizon is the fixed validity window of a refresh token,
	// counted from the moment the pair is stored. The provider does not
	// declare one.
	RefreshHorizon = 90 * 24 * time.Hour
)

var (
	// ErrNotConnected means no credential record exists; the interactive
	// authorization flow has never completed.
	ErrNotConnected = errors.New("vault: not connected, authorization required")

	// ErrReauthorizationRequired means the refresh token itself has expired.
	// Terminal for the current process — only a new interactive
	// authorization recovers from this, never an automatic retry.
	ErrReauthorizationRequired = errors.New("vault: refresh token expired, reauthorization required")
)

// ValidationError reports a malformed input to the authorization flow.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "vault: " + e.Reason }

// ConfigError reports missing endpoint or client configuration.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "vault: missing configuration: " + strings.Join(e.Missing, ", ")
}

// TokenEndpointError reports a non-success response from the token endpoint.
type TokenEndpointError struct {
	StatusCode int
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("vault: token endpoint returned HTTP %d", e.StatusCode)
}

// CredentialRecord is the singleton stored credential: both tokens
// encrypted, each with its own IV. It is replaced wholesale on every
// authorization or refresh, never mutated field by field.
type CredentialRecord struct {
	AccessCiphertext  []byte
	AccessIV          []byte
	RefreshCiphertext []byte
	RefreshIV         []byte
	AccessExpiresAt   time.Time
	RefreshExpiresAt  time.Time
	UpdatedAt         time.Time
}

// Repository persists the singleton credential. Replace swaps the stored
// record atomically; Current returns it, or nil when none exists. There is
// deliberately no raw insert — the 0-or-1 invariant lives in the repository.
type Repository interface {
	Replace(ctx context.Context, rec CredentialRecord) error
	Current(ctx context.Context) (*CredentialRecord, error)
}

// Config holds the OAuth client settings for the authority connection.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AuthEndpoint  string
	TokenEndpoint string
}

// Status is the read-only connection view. It never carries secrets.
type Status struct {
	Connected     bool      `json:"connected"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Vault manages the credential lifecycle.
type Vault struct {
	cfg        Config
	cipher     *cryptox.Cipher
	repo       Repository
	httpClient *http.Client

	// mu serializes refresh-and-replace so concurrent token requests
	// cannot race the singleton swap.
	mu sync.Mutex

	now func() time.Time
}

// New creates a Vault. httpClient may be nil, in which case the default
// client is used for token endpoint calls.
func New(cfg Config, cipher *cryptox.Cipher, repo Repository, httpClient *http.Client) *Vault {
	return &Vault{
		cfg:        cfg,
		cipher:     cipher,
		repo:       repo,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// BeginAuthorization builds the interactive-consent redirect URL.
func (v *Vault) BeginAuthorization() (string, error) {
	var missing []string
	if v.cfg.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if v.cfg.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	if v.cfg.AuthEndpoint == "" {
		missing = append(missing, "auth_endpoint")
	}
	if len(missing) > 0 {
		return "", &ConfigError{Missing: missing}
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", v.cfg.ClientID)
	params.Set("redirect_uri", v.cfg.RedirectURI)

	return v.cfg.AuthEndpoint + "?" + params.Encode(), nil
}

// CompleteAuthorization exchanges an authorization code for a token pair and
// replaces the stored credential.
func (v *Vault) CompleteAuthorization(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return &ValidationError{Reason: "authorization code is empty"}
	}

	var missing []string
	if v.cfg.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if v.cfg.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if v.cfg.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	tok, err := v.oauthConfig().Exchange(v.httpContext(ctx), code)
	if err != nil {
		return mapTokenError("authorization code exchange", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.storeTokenPair(ctx, tok); err != nil {
		return err
	}

	slog.Info("authority connection established",
		"access_expires_at", tok.Expiry.Add(-SafetyMargin),
	)
	return nil
}

// GetValidAccessToken returns a bearer token with more than the safety
// margin of lifetime remaining. Expiry is re-evaluated on every call; when
// the access token is stale but the refresh token still valid, the pair is
// silently refreshed and replaced.
func (v *Vault) GetValidAccessToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.repo.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return "", ErrNotConnected
	}

	now := v.now()
	if now.Before(rec.AccessExpiresAt) {
		return v.cipher.Decrypt(rec.AccessCiphertext, rec.AccessIV)
	}

	if !now.Before(rec.RefreshExpiresAt) {
		return "", ErrReauthorizationRequired
	}

	refreshToken, err := v.cipher.Decrypt(rec.RefreshCiphertext, rec.RefreshIV)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	// grant_type=refresh_token exchange via the oauth2 token source.
	src := v.oauthConfig().TokenSource(v.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", mapTokenError("refresh token exchange", err)
	}
	if tok.RefreshToken == "" {
		// Provider kept the old refresh token; carry it forward.
		tok.RefreshToken = refreshToken
	}

	if err := v.storeTokenPair(ctx, tok); err != nil {
		return "", err
	}

	slog.Info("access token refreshed",
		"access_expires_at", tok.Expiry.Add(-SafetyMargin),
	)
	return tok.AccessToken, nil
}

// ConnectionStatus reports the connection state without decrypting anything.
func (v *Vault) ConnectionStatus(ctx context.Context) (Status, error) {
	rec, err := v.repo.Current(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return Status{}, nil
	}

	return Status{
		Connected:     v.now().Before(rec.RefreshExpiresAt),
		ExpiresAt:     rec.AccessExpiresAt,
		LastRefreshed: rec.UpdatedAt,
	}, nil
}

// storeTokenPair encrypts both tokens and replaces the singleton record.
// Caller holds mu.
func (v *Vault) storeTokenPair(ctx context.Context, tok *oauth2.Token) error {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return fmt.Errorf("vault: token endpoint returned an incomplete token pair")
	}

	accessCT, accessIV, err := v.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshCT, refreshIV, err := v.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := v.now()
	rec := CredentialRecord{
		AccessCiphertext:  accessCT,
		AccessIV:          accessIV,
		RefreshCiphertext: refreshCT,
		RefreshIV:         refreshIV,
		AccessExpiresAt:   tok.Expiry.Add(-SafetyMargin),
		RefreshExpiresAt:  now.Add(RefreshHorizon),
		UpdatedAt:         now,
	}

	if err := v.repo.Replace(ctx, rec); err != nil {
		return fmt.Errorf("replace credential: %w", err)
	}
	return nil
}

func (v *Vault) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     v.cfg.ClientID,
		ClientSecret: v.cfg.ClientSecret,
		RedirectURL:  v.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   v.cfg.AuthEndpoint,
			TokenURL:  v.cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// httpContext injects the vault's HTTP client into the oauth2 library.
func (v *Vault) httpContext(ctx context.Context) context.Context {
	if v.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
}

// mapTokenError converts oauth2 retrieval failures into the vault taxonomy
// without leaking response bodies (they can echo credentials).
func mapTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		code := 0
		if rerr.Response != nil {
			code = rerr.Response.StatusCode
		}
		slog.Error("token endpoint rejected request", "op", op, "status", code)
		return &TokenEndpointError{StatusCode: code}
	}
	return fmt.Errorf("vault: %s: %w", op, err)
}
