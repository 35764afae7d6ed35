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

package devstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carverauto/lanscape/pkg/models"
)

// DefaultKey is the device-list key used when the caller does not choose
// its own.
const DefaultKey = "devices"

// KVDeviceStore is a Store that keeps the device list as one JSON
// document in a KVStore.
type KVDeviceStore struct {
	kv KVStore
}

var _ Store = (*KVDeviceStore)(nil)

// NewKVDeviceStore wraps a KV backend in the device-list contract.
func NewKVDeviceStore(kv KVStore) *KVDeviceStore {
	return &KVDeviceStore{kv: kv}
}

func (s *KVDeviceStore) Load(ctx context.Context, key string) ([]*models.Device, error) {
	data, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices under %q: %w", key, err)
	}

	if !found || len(data) == 0 {
		return []*models.Device{}, nil
	}

	var devices []*models.Device

	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices under %q: %w", key, err)
	}

	return devices, nil
}

func (s *KVDeviceStore) Save(ctx context.Context, key string, devices []*models.Device) error {
	if devices == nil {
		devices = []*models.Device{}
	}

	data, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("failed to encode devices under %q: %w", key, err)
	}

	if err := s.kv.Put(ctx, key, data, 0); err != nil {
		return fmt.Errorf("failed to save devices under %q: %w", key, err)
	}

	return nil
}
