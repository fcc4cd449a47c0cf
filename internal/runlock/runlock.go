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

// Package runlock serializes sync runs with a Redis SETNX lock. The
// orchestrator's design does not support concurrent runs; callers take this
// lock before starting one. The TTL guards against a crashed holder pinning
// the lock forever.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a dead run can hold the lock. Runs are
	// expected to finish well within it.
	DefaultTTL = 15 * time.Minute

	lockKey = "efactura:sync:lock"
)

// ErrAlreadyRunning means another sync run currently holds the lock.
var ErrAlreadyRunning = errors.New("runlock: a sync run is already in progress")

// Lock is a Redis-backed mutual exclusion for sync runs.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLock creates a run lock.
func NewLock(rdb *redis.Client) *Lock {
	return &Lock{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Acquire takes the lock, failing with ErrAlreadyRunning when held.
func (l *Lock) Acquire(ctx context.Context) error {
	set, err := l.rdb.SetNX(ctx, lockKey, 1, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("runlock SETNX: %w", err)
	}
	if !set {
		return ErrAlreadyRunning
	}
	return nil
}

// Release frees the lock after a run finishes.
func (l *Lock) Release(ctx context.Context) error {
	return l.rdb.Del(ctx, lockKey).Err()
}
