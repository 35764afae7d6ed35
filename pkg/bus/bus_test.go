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

package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

func changeFor(id string) models.Mutation {
	return models.NewChange(nil, &models.Device{ID: id}, []string{models.FieldLastSeen}, models.SourcePing)
}

func collect(t *testing.T, ch <-chan models.Mutation, n int) []models.Mutation {
	t.Helper()

	out := make([]models.Mutation, 0, n)

	for len(out) < n {
		select {
		case m, ok := <-ch:
			require.True(t, ok, "channel closed after %d of %d mutations", len(out), n)
			out = append(out, m)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d mutations", len(out), n)
		}
	}

	return out
}

func TestBusFanOutOrder(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())
	defer b.Close()

	const subscribers = 3

	const emitted = 20

	chans := make([]<-chan models.Mutation, 0, subscribers)

	for i := 0; i < subscribers; i++ {
		ch, cancel := b.Subscribe(false)
		defer cancel()

		chans = append(chans, ch)
	}

	for i := 0; i < emitted; i++ {
		b.Emit(changeFor(fmt.Sprintf("dev-%d", i)))
	}

	for _, ch := range chans {
		got := collect(t, ch, emitted)

		for i, m := range got {
			assert.Equal(t, fmt.Sprintf("dev-%d", i), m.After.ID, "each subscriber sees every mutation exactly once, in order")
		}
	}
}

func TestBusBufferedReplayKeepsLastK(t *testing.T) {
	const capacity = 4

	b := New(capacity, logger.NewTestLogger())
	defer b.Close()

	for i := 0; i < 10; i++ {
		b.Emit(changeFor(fmt.Sprintf("dev-%d", i)))
	}

	assert.Equal(t, capacity, b.BufferedCount())

	ch, cancel := b.Subscribe(true)
	defer cancel()

	got := collect(t, ch, capacity)

	// Last k mutations, oldest first.
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("dev-%d", 10-capacity+i), m.After.ID)
	}
}

func TestBusSubscribeWithoutReplay(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())
	defer b.Close()

	b.Emit(changeFor("before"))

	ch, cancel := b.Subscribe(false)
	defer cancel()

	b.Emit(changeFor("after"))

	got := collect(t, ch, 1)
	assert.Equal(t, "after", got[0].After.ID)
}

func TestBusClearBuffer(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())
	defer b.Close()

	b.Emit(changeFor("a"))
	b.Emit(changeFor("b"))
	require.Equal(t, 2, b.BufferedCount())

	b.ClearBuffer()
	assert.Equal(t, 0, b.BufferedCount())

	ch, cancel := b.Subscribe(true)
	defer cancel()

	b.Emit(changeFor("c"))

	got := collect(t, ch, 1)
	assert.Equal(t, "c", got[0].After.ID, "cleared buffer must not replay old mutations")
}

func TestBusSlowSubscriberDropsNothing(t *testing.T) {
	b := New(2, logger.NewTestLogger())
	defer b.Close()

	ch, cancel := b.Subscribe(false)
	defer cancel()

	const emitted = 200

	// Emit far past the ring capacity before reading anything.
	for i := 0; i < emitted; i++ {
		b.Emit(changeFor(fmt.Sprintf("dev-%d", i)))
	}

	got := collect(t, ch, emitted)

	for i, m := range got {
		require.Equal(t, fmt.Sprintf("dev-%d", i), m.After.ID)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())
	defer b.Close()

	ch, cancel := b.Subscribe(false)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Emitting after unsubscribe must not panic or deliver.
	b.Emit(changeFor("late"))
}

func TestBusCloseClosesAllSubscribers(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())

	ch1, cancel1 := b.Subscribe(false)
	defer cancel1()

	ch2, cancel2 := b.Subscribe(false)
	defer cancel2()

	b.Close()

	for _, ch := range []<-chan models.Mutation{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("channel not closed after bus Close")
		}
	}

	// Subscribing to a closed bus yields an already-closed channel.
	ch3, cancel3 := b.Subscribe(true)
	defer cancel3()

	_, ok := <-ch3
	assert.False(t, ok)
}

func TestBusSnapshotMutationPassesThrough(t *testing.T) {
	b := New(DefaultBufferSize, logger.NewTestLogger())
	defer b.Close()

	ch, cancel := b.Subscribe(false)
	defer cancel()

	devices := []*models.Device{{ID: "a"}, {ID: "b"}}
	b.Emit(models.NewSnapshot(devices))

	got := collect(t, ch, 1)
	require.Equal(t, models.MutationSnapshot, got[0].Kind)
	assert.Len(t, got[0].Devices, 2)
}
