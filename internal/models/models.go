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

// Package models defines the data structures shared across the ingestion service.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MessageKind is the authority-declared message type (the `tip` field).
type MessageKind string

const (
	KindReceivedInvoice MessageKind = "FACTURA PRIMITA"
	KindSentInvoice     MessageKind = "FACTURA TRIMISA"
	KindErrorNotice     MessageKind = "ERORI FACTURA"
)

// MessageStatus tracks the processing fate of one inbound message.
type MessageStatus string

const (
	StatusUnprocessed     MessageStatus = "UNPROCESSED"
	StatusCompleted       MessageStatus = "COMPLETED"
	StatusErrorNoSupplier MessageStatus = "ERROR_NO_SUPPLIER"
	StatusErrorOther      MessageStatus = "ERROR_OTHER"
)

// InboundMessage is one entry from the authority's message list, persisted
// locally. ExternalID is provider-assigned and unique — it is the natural
// idempotency key: a message is created once and only its status fields
// change afterwards.
type InboundMessage struct {
	ID              int64
	ExternalID      string
	IssuerTaxID     string
	Title           string
	Kind            MessageKind
	CreatedByIssuer time.Time
	Detail          string
	Downloaded      bool
	Status          MessageStatus
	ProcessingError *string
	InvoiceID       *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Supplier is a locally known supplier, matched by fiscal code.
type Supplier struct {
	ID         int64
	Name       string
	FiscalCode string
	Address    string
}

// InvoiceLine is one materialized invoice line.
type InvoiceLine struct {
	Product   string
	Quantity  decimal.Decimal
	UnitCode  string
	Unit      string
	UnitPrice decimal.Decimal
	LineValue decimal.Decimal
}

// Invoice is the materialized record built from a decoded document.
// Supplier and buyer identity are captured as a point-in-time snapshot so
// later edits to the directory don't rewrite history.
type Invoice struct {
	ID              int64
	MessageID       int64
	SupplierID      int64
	SupplierName    string
	SupplierTaxID   string
	SupplierAddress string
	BuyerName       string
	BuyerTaxID      string
	Series          string
	Number          string
	IssueDate       time.Time
	DueDate         time.Time
	Currency        string
	Total           decimal.Decimal
	Lines           []InvoiceLine
	CreatedAt       time.Time
}

// AuditType classifies an audit log entry.
type AuditType string

const (
	AuditInfo    AuditType = "INFO"
	AuditSuccess AuditType = "SUCCESS"
	AuditError   AuditType = "ERROR"
	AuditWarning AuditType = "WARNING"
)

// AuditEntry is one append-only audit record. One entry is written per sync
// run (or per top-level failure), never per message.
type AuditEntry struct {
	ID        int64
	Type      AuditType
	Action    string
	Message   string
	Details   map[string]any
	CreatedAt time.Time
}

// InvoiceIngestedEvent is published to the downstream queue after an invoice
// is materialized.
type InvoiceIngestedEvent struct {
	EventID      string `json:"event_id"`
	MessageID    string `json:"message_id"`
	InvoiceID    int64  `json:"invoice_id"`
	SupplierID   int64  `json:"supplier_id"`
	Series       string `json:"series"`
	Number       string `json:"number"`
	Currency     string `json:"currency"`
	Total        string `json:"total"`
	IngestedAt   string `json:"ingested_at"`
	SupplierName string `json:"supplier_name,omitempty"`
}
