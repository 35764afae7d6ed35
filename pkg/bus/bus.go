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

// Package bus carries device mutations between discovery components.
//
// The bus delivers every emitted mutation to every active subscriber, in
// emission order, on an independent per-subscriber channel. Subscribers
// never lose mutations: a slow consumer accumulates them in its own
// pending queue instead of blocking emitters or sibling subscribers. Only
// the replay ring is size-bounded; it keeps the most recent mutations so
// late joiners can catch up without full history.
package bus

import (
	"sync"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

// DefaultBufferSize is the replay ring capacity when none is configured.
const DefaultBufferSize = 16

// Emitter is the write side of the bus.
type Emitter interface {
	Emit(m models.Mutation)
}

// Bus is an ordered, multi-subscriber mutation channel with bounded
// replay buffering.
type Bus struct {
	logger logger.Logger

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	ring    []models.Mutation
	ringCap int
	closed  bool
	wg      sync.WaitGroup
}

type subscriber struct {
	out    chan models.Mutation
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending []models.Mutation
}

var _ Emitter = (*Bus)(nil)

// New creates a bus with the given replay ring capacity. A non-positive
// capacity selects DefaultBufferSize.
func New(bufferSize int, log logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Bus{
		logger:  log,
		subs:    make(map[int]*subscriber),
		ringCap: bufferSize,
	}
}

// Emit publishes m to every current subscriber and records it in the
// replay ring. Emit never blocks on slow consumers.
func (b *Bus) Emit(m models.Mutation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if len(b.ring) == b.ringCap {
		b.ring = b.ring[1:]
	}

	b.ring = append(b.ring, m)

	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.pending = append(sub.pending, m)
		sub.mu.Unlock()

		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its ordered mutation
// channel plus a cancel function. When includeBuffered is set, the
// channel first yields the ring contents oldest-first, then live
// mutations. The channel closes after cancel (or bus Close).
func (b *Bus) Subscribe(includeBuffered bool) (<-chan models.Mutation, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		out:    make(chan models.Mutation),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	if b.closed {
		close(sub.out)
		return sub.out, func() {}
	}

	if includeBuffered && len(b.ring) > 0 {
		sub.pending = append(sub.pending, b.ring...)
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	b.logger.Debug().Int("subscriber_id", id).Bool("include_buffered", includeBuffered).
		Int("buffered", len(sub.pending)).Msg("Bus subscriber registered")

	b.wg.Add(1)

	go b.pump(sub)

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()

		sub.stop()
	}

	return sub.out, cancel
}

// pump drains one subscriber's pending queue into its channel.
func (b *Bus) pump(sub *subscriber) {
	defer b.wg.Done()
	defer close(sub.out)

	for {
		sub.mu.Lock()

		for len(sub.pending) == 0 {
			sub.mu.Unlock()

			select {
			case <-sub.notify:
			case <-sub.done:
				return
			}

			sub.mu.Lock()
		}

		next := sub.pending[0]
		sub.pending = sub.pending[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- next:
		case <-sub.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// ClearBuffer empties the replay ring. Active subscriptions are
// unaffected.
func (b *Bus) ClearBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = nil
}

// BufferedCount reports the current replay ring depth.
func (b *Bus) BufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.ring)
}

// Close tears down every subscription and rejects further emits. It
// returns once all subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))

	for _, sub := range b.subs {
		subs = append(subs, sub)
	}

	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	b.wg.Wait()

	b.logger.Debug().Msg("Mutation bus closed")
}
