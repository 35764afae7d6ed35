/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:generate mockgen -destination=mock_kv.go -package=devstore github.com/carverauto/lanscape/pkg/devstore KVStore
//go:generate mockgen -destination=mock_store.go -package=devstore github.com/carverauto/lanscape/pkg/devstore Store

// Package devstore persists the canonical device list.
package devstore

import (
	"context"
	"time"

	"github.com/carverauto/lanscape/pkg/models"
)

// Store is the persistence collaborator for the reconciler: a device-list
// load/save keyed by an opaque string. Implementations must round-trip
// the Device shape faithfully.
type Store interface {
	// Load returns the device list stored under key. A missing key yields
	// an empty list, not an error.
	Load(ctx context.Context, key string) ([]*models.Device, error)

	// Save replaces the device list stored under key.
	Save(ctx context.Context, key string, devices []*models.Device) error
}

// KVStore is the raw key-value backend a Store rides on.
type KVStore interface {
	// Get retrieves the value associated with the given key. Returns the
	// value, a boolean indicating if the key was found, and an error if
	// the operation fails.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores a value under the given key with an optional TTL. A zero
	// ttl persists the value until explicitly deleted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key and its associated value from the store.
	Delete(ctx context.Context, key string) error

	// Watch monitors the specified key for changes and sends the new
	// value through the returned channel. The channel closes when the
	// context is canceled or the store is closed.
	Watch(ctx context.Context, key string) (<-chan []byte, error)

	// Close shuts down the store, releasing any resources.
	Close() error
}
