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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	bridgeEventSource   = "lanscape/reconciler"
	subjectDeviceChange = "lanscape.device.change"
	subjectSnapshot     = "lanscape.device.snapshot"
)

// CloudEvent is the CloudEvents 1.0 envelope used on the external stream.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// NATSBridge republishes bus mutations onto a NATS JetStream stream as
// CloudEvents, for consumers outside the process. Publish failures are
// logged and never affect in-process delivery.
type NATSBridge struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger

	cancel func()
	done   chan struct{}
}

// NewNATSBridge connects to NATS, ensures the stream exists, and returns
// a bridge ready to Start.
func NewNATSBridge(ctx context.Context, natsURL, streamName string, log logger.Logger, opts ...nats.Option) (*NATSBridge, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.Stream(ctx, streamName)
	if err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{"lanscape.device.>"},
		}

		_, err = js.CreateOrUpdateStream(ctx, streamConfig)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	return &NATSBridge{
		js:     js,
		stream: streamName,
		logger: log,
	}, nc, nil
}

// Start subscribes to the bus and forwards mutations until Stop or
// context cancellation.
func (br *NATSBridge) Start(ctx context.Context, b *Bus) {
	ch, unsubscribe := b.Subscribe(false)

	ctx, cancel := context.WithCancel(ctx)
	br.cancel = cancel
	br.done = make(chan struct{})

	go func() {
		defer close(br.done)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				br.publish(ctx, m)
			}
		}
	}()
}

// Stop halts forwarding. Already-published events are not recalled.
func (br *NATSBridge) Stop() {
	if br.cancel == nil {
		return
	}

	br.cancel()
	<-br.done
}

func (br *NATSBridge) publish(ctx context.Context, m models.Mutation) {
	now := time.Now()

	subject := subjectDeviceChange
	eventType := "com.carverauto.lanscape.device.change"

	if m.Kind == models.MutationSnapshot {
		subject = subjectSnapshot
		eventType = "com.carverauto.lanscape.device.snapshot"
	}

	event := CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          bridgeEventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &now,
		Data:            m,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		br.logger.Error().Err(err).Msg("Failed to marshal device event")
		return
	}

	if _, err := br.js.Publish(ctx, subject, eventBytes); err != nil {
		br.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish device event")
	}
}
