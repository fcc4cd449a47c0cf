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

// Package queue publishes invoice-ingested events to a Redis list so
// downstream consumers (accounting export, notifications) pick up new
// invoices without polling the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/facturio/efactura/internal/models"
)

// Publisher sends invoice events to Redis.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// PublishInvoiceIngested serialises the event and pushes it to the queue.
// A fresh event id is assigned on every publish.
func (p *Publisher) PublishInvoiceIngested(ctx context.Context, event *models.InvoiceIngestedEvent) error {
	event.EventID = uuid.New().String()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal invoice event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published invoice event",
		"event_id", event.EventID,
		"message_id", event.MessageID,
		"invoice_id", event.InvoiceID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
