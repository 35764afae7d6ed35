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
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	fileStoreDirPerm  = 0o755
	fileStoreFilePerm = 0o600
	fileWatchInterval = time.Second
)

// FileStore is a KVStore that keeps each key as a JSON file under a
// state directory. Writes go through a temp file plus rename so readers
// never observe a partial document. TTLs are not supported and silently
// ignored.
type FileStore struct {
	dir string

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

var _ KVStore = (*FileStore)(nil)

// NewFileStore creates the state directory when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, fileStoreDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state dir %q: %w", dir, err)
	}

	return &FileStore{
		dir:  dir,
		done: make(chan struct{}),
	}, nil
}

func (f *FileStore) path(key string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	return data, true, nil
}

func (f *FileStore) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)

	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to stage key %s: %w", key, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to flush key %s: %w", key, err)
	}

	if err := os.Chmod(tmpName, fileStoreFilePerm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to set mode for key %s: %w", key, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to commit key %s: %w", key, err)
	}

	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

// Watch polls the key's file and delivers its content whenever the hash
// changes. Good enough for a local state directory; there is no inotify
// dependency to carry.
func (f *FileStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch := make(chan []byte, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(fileWatchInterval)
		defer ticker.Stop()

		var lastHash [sha256.Size]byte

		seeded := false

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case <-ticker.C:
				data, found, err := f.Get(ctx, key)
				if err != nil || !found {
					continue
				}

				hash := sha256.Sum256(data)
				if seeded && hash == lastHash {
					continue
				}

				lastHash = hash
				seeded = true

				select {
				case ch <- data:
				case <-ctx.Done():
					return
				case <-f.done:
					return
				}
			}
		}
	}()

	return ch, nil
}

func (f *FileStore) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
	})

	return nil
}
