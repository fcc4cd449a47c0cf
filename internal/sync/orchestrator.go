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

// Package sync orchestrates one synchronisation run against the authority's
// inbox: acquire a token, list messages for the configured taxpayer, persist
// new message headers idempotently, and drive download → decode → match →
// materialize for received invoices. Every message gets its own recorded
// outcome; a failure on one message never aborts the rest of the batch.
// Messages are processed strictly in list order — each message's effects are
// scoped to its own key plus run-level counters.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facturio/efactura/internal/anaf"
	"github.com/facturio/efactura/internal/codec"
	"github.com/facturio/efactura/internal/models"
)

var (
	// ErrMessageNotFound is returned by Retry for an unknown message id.
	ErrMessageNotFound = errors.New("sync: message not found")

	// ErrAlreadyCompleted is returned by Retry for a message that already
	// produced an invoice. Reprocessing would risk a duplicate.
	ErrAlreadyCompleted = errors.New("sync: message already completed")

	// ErrNotRetryable is returned by Retry for message kinds the processing
	// path does not handle. Only received invoices materialize.
	ErrNotRetryable = errors.New("sync: only received invoices can be retried")
)

// TokenSource hands out a currently-valid bearer token.
// Implemented by vault.Vault.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Authority is the upstream message API. Implemented by anaf.Client.
type Authority interface {
	ListMessages(ctx context.Context, token, cui string, days int) ([]anaf.Message, error)
	Download(ctx context.Context, token, downloadID string) ([]byte, error)
}

// MessageStore persists inbound messages. Implemented by store.MessageStore.
type MessageStore interface {
	Create(ctx context.Context, m *models.InboundMessage) (created bool, err error)
	GetByExternalID(ctx context.Context, externalID string) (*models.InboundMessage, error)
	GetByID(ctx context.Context, id int64) (*models.InboundMessage, error)
	MarkDownloaded(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status models.MessageStatus, processingError *string, invoiceID *int64) error
}

// InvoiceStore materializes invoice records. Implemented by store.InvoiceStore.
type InvoiceStore interface {
	Insert(ctx context.Context, inv *models.Invoice) (int64, error)
	GetByMessageID(ctx context.Context, messageID int64) (*models.Invoice, error)
}

// Matcher resolves supplier tax ids. Implemented by supplier.Matcher.
type Matcher interface {
	Resolve(ctx context.Context, taxID string) (*models.Supplier, error)
}

// AuditLog receives one entry per run. Implemented by store.AuditStore.
type AuditLog interface {
	Append(ctx context.Context, e models.AuditEntry) error
}

// Publisher notifies downstream consumers of ingested invoices.
// Implemented by queue.Publisher; optional.
type Publisher interface {
	PublishInvoiceIngested(ctx context.Context, event *models.InvoiceIngestedEvent) error
}

// Report summarises one sync run.
type Report struct {
	NewMessages int `json:"new_messages"`
	Processed   int `json:"processed"`
	Errors      int `json:"errors"`
}

// Config holds the orchestrator's collaborators and settings.
type Config struct {
	Tokens       TokenSource
	Authority    Authority
	Messages     MessageStore
	Invoices     InvoiceStore
	Matcher      Matcher
	Audit        AuditLog
	Publisher    Publisher // optional
	Decoder      *codec.Decoder
	TaxID        string
	LookbackDays int
}

// Orchestrator runs sync passes and single-message retries.
type Orchestrator struct {
	tokens       TokenSource
	authority    Authority
	messages     MessageStore
	invoices     InvoiceStore
	matcher      Matcher
	audit        AuditLog
	publisher    Publisher
	decoder      *codec.Decoder
	taxID        string
	lookbackDays int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	decoder := cfg.Decoder
	if decoder == nil {
		decoder = &codec.Decoder{}
	}
	days := cfg.LookbackDays
	if days <= 0 {
		days = anaf.MaxLookbackDays
	}
	return &Orchestrator{
		tokens:       cfg.Tokens,
		authority:    cfg.Authority,
		messages:     cfg.Messages,
		invoices:     cfg.Invoices,
		matcher:      cfg.Matcher,
		audit:        cfg.Audit,
		publisher:    cfg.Publisher,
		decoder:      decoder,
		taxID:        cfg.TaxID,
		lookbackDays: days,
	}
}

// outcome is the fate of one listed message within a run.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeCompleted
	outcomeFailed
	// outcomeStoreError marks a message the store refused to look up or
	// create. No row exists, so it counts as an error without a status write.
	outcomeStoreError
)

// RunSync performs one full synchronisation pass. A token or list failure
// aborts the run and is audited once at the top level; everything after the
// loop starts is scoped to individual messages.
func (o *Orchestrator) RunSync(ctx context.Context) (Report, error) {
	started := time.Now()

	token, err := o.tokens.GetValidAccessToken(ctx)
	if err != nil {
		o.auditFailure(ctx, "token acquisition failed", err)
		return Report{}, fmt.Errorf("acquire access token: %w", err)
	}

	listed, err := o.authority.ListMessages(ctx, token, o.taxID, o.lookbackDays)
	if err != nil {
		o.auditFailure(ctx, "message list fetch failed", err)
		return Report{}, fmt.Errorf("list messages: %w", err)
	}

	var report Report
	for _, msg := range listed {
		switch o.syncOne(ctx, token, msg) {
		case outcomeCreated:
			report.NewMessages++
		case outcomeCompleted:
			report.NewMessages++
			report.Processed++
		case outcomeFailed:
			report.NewMessages++
			report.Errors++
		case outcomeStoreError:
			report.Errors++
		}
	}

	o.auditRun(ctx, report, len(listed), time.Since(started))

	slog.Info("sync run complete",
		"listed", len(listed),
		"new_messages", report.NewMessages,
		"processed", report.Processed,
		"errors", report.Errors,
	)
	return report, nil
}

// syncOne handles a single listed message: idempotent header creation, then
// immediate processing for received invoices. All failures are absorbed into
// the returned outcome.
func (o *Orchestrator) syncOne(ctx context.Context, token string, msg anaf.Message) outcome {
	existing, err := o.messages.GetByExternalID(ctx, msg.ExternalID)
	if err != nil {
		slog.Error("message lookup failed", "external_id", msg.ExternalID, "error", err)
		return outcomeStoreError
	}
	if existing != nil {
		return outcomeSkipped
	}

	m := &models.InboundMessage{
		ExternalID:      msg.ExternalID,
		IssuerTaxID:     msg.IssuerTaxID,
		Title:           msg.Title,
		Kind:            msg.Kind,
		CreatedByIssuer: msg.CreatedAt,
		Detail:          msg.Detail,
	}
	created, err := o.messages.Create(ctx, m)
	if err != nil {
		slog.Error("message create failed", "external_id", msg.ExternalID, "error", err)
		return outcomeStoreError
	}
	if !created {
		// Provider resent an id we stored between lookup and insert.
		return outcomeSkipped
	}

	if m.Kind != models.KindReceivedInvoice {
		// Sent invoices and error notices stay UNPROCESSED in this pass.
		return outcomeCreated
	}

	if o.processMessage(ctx, token, m) == models.StatusCompleted {
		return outcomeCompleted
	}
	return outcomeFailed
}

// processMessage drives download → decode → match → materialize for one
// message and records the resulting status. It is the shared path for both
// the sync loop and Retry, and always re-downloads and re-decodes.
func (o *Orchestrator) processMessage(ctx context.Context, token string, m *models.InboundMessage) models.MessageStatus {
	body, err := o.authority.Download(ctx, token, m.ExternalID)
	if err != nil {
		return o.recordFailure(ctx, m, models.StatusErrorOther, fmt.Sprintf("download failed: %v", err))
	}
	if err := o.messages.MarkDownloaded(ctx, m.ID); err != nil {
		slog.Warn("mark downloaded failed", "message_id", m.ID, "error", err)
	}

	doc, err := o.decoder.Decode(body)
	if err != nil {
		return o.recordFailure(ctx, m, models.StatusErrorOther, fmt.Sprintf("decode failed: %v", err))
	}

	sup, err := o.matcher.Resolve(ctx, doc.SupplierTaxID)
	if err != nil {
		return o.recordFailure(ctx, m, models.StatusErrorOther, fmt.Sprintf("supplier lookup failed: %v", err))
	}
	if sup == nil {
		return o.recordFailure(ctx, m, models.StatusErrorNoSupplier,
			fmt.Sprintf("no local supplier with fiscal code %q (issuer of invoice %s%s)",
				doc.SupplierTaxID, doc.Series, doc.Number))
	}

	inv := buildInvoice(m, doc, sup)
	invoiceID, err := o.invoices.Insert(ctx, inv)
	if err != nil {
		// An earlier pass may have inserted the invoice and then lost the
		// status write. Relink rather than leave the message stuck against
		// the one-invoice-per-message constraint.
		existing, lookupErr := o.invoices.GetByMessageID(ctx, m.ID)
		if lookupErr != nil || existing == nil {
			return o.recordFailure(ctx, m, models.StatusErrorOther, fmt.Sprintf("invoice insert failed: %v", err))
		}
		slog.Warn("invoice already materialized for message, repairing link",
			"message_id", m.ID,
			"invoice_id", existing.ID,
		)
		invoiceID = existing.ID
		inv.ID = existing.ID
	}

	if err := o.messages.SetStatus(ctx, m.ID, models.StatusCompleted, nil, &invoiceID); err != nil {
		slog.Error("status update failed after invoice insert",
			"message_id", m.ID,
			"invoice_id", invoiceID,
			"error", err,
		)
		return models.StatusErrorOther
	}

	o.publishIngested(ctx, m, inv)

	slog.Info("invoice materialized",
		"external_id", m.ExternalID,
		"invoice_id", invoiceID,
		"supplier_id", sup.ID,
		"series", inv.Series,
		"number", inv.Number,
	)
	return models.StatusCompleted
}

// Retry re-enters the per-message path for one previously stored message.
// The document is re-downloaded and re-decoded — the operator may have just
// created the missing supplier. A COMPLETED message is rejected outright, and
// so is any kind the processing path does not handle: sent invoices and error
// notices must never materialize an invoice.
func (o *Orchestrator) Retry(ctx context.Context, messageID int64) (models.MessageStatus, error) {
	m, err := o.messages.GetByID(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("load message: %w", err)
	}
	if m == nil {
		return "", ErrMessageNotFound
	}
	if m.Status == models.StatusCompleted {
		return "", ErrAlreadyCompleted
	}
	if m.Kind != models.KindReceivedInvoice {
		return "", ErrNotRetryable
	}

	token, err := o.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire access token: %w", err)
	}

	return o.processMessage(ctx, token, m), nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, m *models.InboundMessage, status models.MessageStatus, reason string) models.MessageStatus {
	if err := o.messages.SetStatus(ctx, m.ID, status, &reason, nil); err != nil {
		slog.Error("status update failed", "message_id", m.ID, "status", status, "error", err)
	}
	slog.Warn("message processing failed",
		"external_id", m.ExternalID,
		"status", status,
		"reason", reason,
	)
	return status
}

func (o *Orchestrator) publishIngested(ctx context.Context, m *models.InboundMessage, inv *models.Invoice) {
	if o.publisher == nil {
		return
	}
	event := &models.InvoiceIngestedEvent{
		MessageID:    m.ExternalID,
		InvoiceID:    inv.ID,
		SupplierID:   inv.SupplierID,
		SupplierName: inv.SupplierName,
		Series:       inv.Series,
		Number:       inv.Number,
		Currency:     inv.Currency,
		Total:        inv.Total.String(),
		IngestedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	// Best effort — the invoice is already materialized.
	if err := o.publisher.PublishInvoiceIngested(ctx, event); err != nil {
		slog.Warn("invoice event publish failed", "invoice_id", inv.ID, "error", err)
	}
}

func (o *Orchestrator) auditRun(ctx context.Context, r Report, listed int, took time.Duration) {
	entryType := models.AuditSuccess
	if r.Errors > 0 {
		entryType = models.AuditWarning
	}
	entry := models.AuditEntry{
		Type:    entryType,
		Action:  "sync_run",
		Message: fmt.Sprintf("sync run finished: %d new, %d processed, %d errors", r.NewMessages, r.Processed, r.Errors),
		Details: map[string]any{
			"listed":       listed,
			"new_messages": r.NewMessages,
			"processed":    r.Processed,
			"errors":       r.Errors,
			"duration_ms":  took.Milliseconds(),
		},
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		slog.Error("audit append failed", "action", entry.Action, "error", err)
	}
}

func (o *Orchestrator) auditFailure(ctx context.Context, msg string, cause error) {
	entry := models.AuditEntry{
		Type:    models.AuditError,
		Action:  "sync_run",
		Message: msg,
		Details: map[string]any{"error": cause.Error()},
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		slog.Error("audit append failed", "action", entry.Action, "error", err)
	}
}

// buildInvoice materializes the decoded document for a matched supplier,
// snapshotting supplier and buyer identity as decoded.
func buildInvoice(m *models.InboundMessage, doc *codec.ParsedInvoice, sup *models.Supplier) *models.Invoice {
	inv := &models.Invoice{
		MessageID:       m.ID,
		SupplierID:      sup.ID,
		SupplierName:    doc.SupplierName,
		SupplierTaxID:   doc.SupplierTaxID,
		SupplierAddress: doc.SupplierAddress,
		BuyerName:       doc.BuyerName,
		BuyerTaxID:      doc.BuyerTaxID,
		Series:          doc.Series,
		Number:          doc.Number,
		IssueDate:       doc.IssueDate,
		DueDate:         doc.DueDate,
		Currency:        doc.Currency,
		Total:           doc.Total,
	}
	for _, l := range doc.Lines {
		inv.Lines = append(inv.Lines, models.InvoiceLine{
			Product:   l.Product,
			Quantity:  l.Quantity,
			UnitCode:  l.UnitCode,
			Unit:      l.Unit,
			UnitPrice: l.UnitPrice,
			LineValue: l.LineValue,
		})
	}
	return inv
}
