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

// Package anaf is the client for the e-invoicing authority's REST API:
// listing inbox messages for a taxpayer and downloading invoice documents.
// Both calls are bearer-authenticated and run under a bounded per-call
// timeout so a stuck upstream can never hang a sync run.
package anaf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/facturio/efactura/internal/models"
)

// MaxLookbackDays is the longest window the list endpoint accepts.
const MaxLookbackDays = 60

// compactTimeLayout is the authority's YYYYMMDDHHmm encoding of data_creare.
const compactTimeLayout = "200601021504"

// StatusError reports a non-success response from the authority.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anaf: %s returned HTTP %d", e.Op, e.StatusCode)
}

// Message is one inbox entry from the list endpoint.
type Message struct {
	ExternalID  string
	IssuerTaxID string
	Title       string
	Kind        models.MessageKind
	CreatedAt   time.Time
	Serial      string
	Detail      string
}

// Client calls the authority's message endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// NewClient creates an authority API client. baseURL is the root of the
// message endpoints (listaMesajeFactura and descarcare live beneath it).
func NewClient(httpClient *http.Client, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		timeout:    timeout,
	}
}

// listResponse mirrors the list endpoint's JSON body.
type listResponse struct {
	Mesaje []struct {
		IDDescarcare string `json:"id_descarcare"`
		CUIEmitent   string `json:"cui_emitent"`
		Titlu        string `json:"titlu"`
		Tip          string `json:"tip"`
		DataCreare   string `json:"data_creare"`
		Serial       string `json:"serial"`
		Detalii      string `json:"detalii"`
	} `json:"mesaje"`
}

// ListMessages fetches inbox entries for a taxpayer over the lookback
// window. Windows beyond the authority's limit are clamped.
func (c *Client) ListMessages(ctx context.Context, token, cui string, days int) ([]Message, error) {
	if days <= 0 || days > MaxLookbackDays {
		days = MaxLookbackDays
	}

	params := url.Values{}
	params.Set("zile", strconv.Itoa(days))
	params.Set("cui", cui)
	endpoint := fmt.Sprintf("%s/listaMesajeFactura?%s", c.baseURL, params.Encode())

	body, err := c.get(ctx, token, endpoint, "list messages")
	if err != nil {
		return nil, err
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}

	messages := make([]Message, 0, len(list.Mesaje))
	for _, m := range list.Mesaje {
		created, err := time.Parse(compactTimeLayout, m.DataCreare)
		if err != nil {
			slog.Warn("unparseable data_creare on message",
				"message_id", m.IDDescarcare,
				"data_creare", m.DataCreare,
			)
		}
		messages = append(messages, Message{
			ExternalID:  m.IDDescarcare,
			IssuerTaxID: m.CUIEmitent,
			Title:       m.Titlu,
			Kind:        models.MessageKind(m.Tip),
			CreatedAt:   created,
			Serial:      m.Serial,
			Detail:      m.Detalii,
		})
	}

	return messages, nil
}

// Download retrieves the raw XML body of one message.
func (c *Client) Download(ctx context.Context, token, downloadID string) ([]byte, error) {
	params := url.Values{}
	params.Set("id", downloadID)
	endpoint := fmt.Sprintf("%s/descarcare?%s", c.baseURL, params.Encode())

	return c.get(ctx, token, endpoint, "download message "+downloadID)
}

func (c *Client) get(ctx context.Context, token, endpoint, op string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
