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

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/lanscape/pkg/enumerate"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/probe"
)

type stubEnumerator struct {
	mu       sync.Mutex
	hosts    []string
	err      error
	maxHosts int
}

func (s *stubEnumerator) Enumerate(_ context.Context, maxHosts int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxHosts = maxHosts

	return s.hosts, s.err
}

func (s *stubEnumerator) requestedMax() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxHosts
}

var _ enumerate.Enumerator = (*stubEnumerator)(nil)

// phaseRecorder collects the distinct phases an observer sees.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []models.ScanPhase
}

func (r *phaseRecorder) observe(p models.ScanProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.phases) == 0 || r.phases[len(r.phases)-1] != p.Phase {
		r.phases = append(r.phases, p.Phase)
	}
}

func (r *phaseRecorder) seen() []models.ScanPhase {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ScanPhase, len(r.phases))
	copy(out, r.phases)

	return out
}

func waitFinished(t *testing.T, o *Orchestrator) {
	t.Helper()

	require.Eventually(t, func() bool {
		return !o.CurrentState().ActiveScanInProgress
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewValidatesCollaborators(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	_, err := New(nil, prober, nil, nil, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrNilScheduler)

	_, err = New(NewMockScheduler(ctrl), nil, nil, nil, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrNilProber)
}

func TestStartScanRunsPingPhasesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)

	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	sched.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, hosts []string, _ models.ProbeConfig, onDone func(string, bool)) {
			for i, h := range hosts {
				onDone(h, i == 0)
			}
		})

	o, err := New(sched, prober, nil, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	rec := &phaseRecorder{}
	o.OnProgress(rec.observe)

	id, err := o.StartScan(context.Background(), ScanRequest{
		Hosts: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitFinished(t, o)

	assert.Equal(t, []models.ScanPhase{
		models.PhaseEnumerating,
		models.PhasePinging,
		models.PhaseFinished,
	}, rec.seen())

	progress := o.Progress()
	assert.True(t, progress.Started)
	assert.True(t, progress.Finished)
	assert.Equal(t, 3, progress.TotalHosts)
	assert.Equal(t, 3, progress.CompletedHosts)
	assert.Equal(t, 1, progress.SuccessHosts)
}

func TestStartScanWarmupOnlyWithPassiveDiscovery(t *testing.T) {
	newOrchestrator := func(t *testing.T, ctrl *gomock.Controller, passive PassiveSource) *Orchestrator {
		t.Helper()

		sched := NewMockScheduler(ctrl)
		sched.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

		prober := probe.NewMockProber(ctrl)
		prober.EXPECT().Available().Return(true).AnyTimes()

		o, err := New(sched, prober, nil, passive, nil, logger.NewTestLogger())
		require.NoError(t, err)

		return o
	}

	t.Run("dwells when passive browsing is active", func(t *testing.T) {
		ctrl := gomock.NewController(t)

		passive := NewMockPassiveSource(ctrl)
		passive.EXPECT().Start(gomock.Any()).Return(nil)
		passive.EXPECT().Stop().Return(nil)

		o := newOrchestrator(t, ctrl, passive)
		require.NoError(t, o.StartBonjour(context.Background()))

		rec := &phaseRecorder{}
		o.OnProgress(rec.observe)

		_, err := o.StartScan(context.Background(), ScanRequest{
			Hosts:  []string{"10.0.0.1"},
			Warmup: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		waitFinished(t, o)
		require.NoError(t, o.StopBonjour())

		assert.Contains(t, rec.seen(), models.PhaseMDNSWarmup)
	})

	t.Run("skips the dwell when passive browsing is off", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		o := newOrchestrator(t, ctrl, nil)

		rec := &phaseRecorder{}
		o.OnProgress(rec.observe)

		_, err := o.StartScan(context.Background(), ScanRequest{
			Hosts:  []string{"10.0.0.1"},
			Warmup: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		waitFinished(t, o)

		assert.NotContains(t, rec.seen(), models.PhaseMDNSWarmup)
	})
}

func TestStartScanAutoEnumerates(t *testing.T) {
	ctrl := gomock.NewController(t)

	enum := &stubEnumerator{hosts: []string{"192.168.1.10", "192.168.1.11"}}

	var got []string

	sched := NewMockScheduler(ctrl)
	sched.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, hosts []string, _ models.ProbeConfig, _ func(string, bool)) {
			got = hosts
		})

	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	o, err := New(sched, prober, enum, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = o.StartScan(context.Background(), ScanRequest{
		AutoEnumerate: true,
		MaxAutoHosts:  7,
	})
	require.NoError(t, err)

	waitFinished(t, o)

	assert.Equal(t, enum.hosts, got)
	assert.Equal(t, 7, enum.requestedMax())
	assert.Equal(t, 2, o.Progress().TotalHosts)
}

func TestStartScanAutoEnumerateDefaultsMaxHosts(t *testing.T) {
	ctrl := gomock.NewController(t)

	enum := &stubEnumerator{}

	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	o, err := New(sched, prober, enum, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = o.StartScan(context.Background(), ScanRequest{AutoEnumerate: true})
	require.NoError(t, err)

	waitFinished(t, o)

	assert.Equal(t, enumerate.DefaultMaxHosts, enum.requestedMax())
}

func TestStartScanEmptyEnumerationCompletesWithZeroHosts(t *testing.T) {
	ctrl := gomock.NewController(t)

	// No Enqueue expectation: the scheduler must never be reached.
	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	o, err := New(sched, prober, &stubEnumerator{}, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	rec := &phaseRecorder{}
	o.OnProgress(rec.observe)

	_, err = o.StartScan(context.Background(), ScanRequest{AutoEnumerate: true})
	require.NoError(t, err)

	waitFinished(t, o)

	progress := o.Progress()
	assert.True(t, progress.Finished)
	assert.Zero(t, progress.TotalHosts)
	assert.Equal(t, models.PhaseFinished, progress.Phase)
}

func TestStartScanWhileActiveFails(t *testing.T) {
	ctrl := gomock.NewController(t)

	release := make(chan struct{})

	sched := NewMockScheduler(ctrl)
	sched.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(context.Context, []string, models.ProbeConfig, func(string, bool)) {
			<-release
		})

	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	o, err := New(sched, prober, nil, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = o.StartScan(context.Background(), ScanRequest{Hosts: []string{"10.0.0.1"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return o.Progress().Phase == models.PhasePinging
	}, time.Second, 5*time.Millisecond)

	_, err = o.StartScan(context.Background(), ScanRequest{Hosts: []string{"10.0.0.2"}})
	require.ErrorIs(t, err, ErrScanInProgress)

	close(release)
	waitFinished(t, o)
}

func TestStopScanCancelsInFlightSweep(t *testing.T) {
	ctrl := gomock.NewController(t)

	entered := make(chan struct{})

	sched := NewMockScheduler(ctrl)
	sched.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(ctx context.Context, _ []string, _ models.ProbeConfig, _ func(string, bool)) {
			close(entered)
			<-ctx.Done()
		})

	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(true).AnyTimes()

	o, err := New(sched, prober, nil, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = o.StartScan(context.Background(), ScanRequest{Hosts: []string{"10.0.0.1"}})
	require.NoError(t, err)

	<-entered
	o.StopScan()

	progress := o.Progress()
	assert.Equal(t, models.PhaseIdle, progress.Phase)
	assert.False(t, progress.Finished)
	assert.False(t, o.CurrentState().ActiveScanInProgress)

	// Stopping again is a no-op.
	o.StopScan()
}

func TestNeighborFallbackWhenICMPUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)

	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)
	prober.EXPECT().Available().Return(false).AnyTimes()

	hosts := []string{"10.0.0.1", "10.0.0.2"}

	neighbors := NewMockNeighborSource(ctrl)
	gomock.InOrder(
		neighbors.EXPECT().Prime(gomock.Any(), hosts).Return(nil),
		neighbors.EXPECT().Refresh(gomock.Any()).Return(nil),
	)

	o, err := New(sched, prober, nil, nil, neighbors, logger.NewTestLogger())
	require.NoError(t, err)

	rec := &phaseRecorder{}
	o.OnProgress(rec.observe)

	_, err = o.StartScan(context.Background(), ScanRequest{Hosts: hosts})
	require.NoError(t, err)

	waitFinished(t, o)

	assert.Equal(t, []models.ScanPhase{
		models.PhaseEnumerating,
		models.PhaseARPPriming,
		models.PhaseARPRefresh,
		models.PhaseFinished,
	}, rec.seen())

	progress := o.Progress()
	assert.Equal(t, 2, progress.CompletedHosts)
}

func TestBonjourTogglesIndependentlyOfScan(t *testing.T) {
	ctrl := gomock.NewController(t)

	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)

	passive := NewMockPassiveSource(ctrl)
	passive.EXPECT().Start(gomock.Any()).Return(nil)
	passive.EXPECT().Stop().Return(nil)

	o, err := New(sched, prober, nil, passive, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, o.StartBonjour(context.Background()))
	require.NoError(t, o.StartBonjour(context.Background()))

	state := o.CurrentState()
	assert.True(t, state.PassiveDiscoveryActive)
	assert.False(t, state.ActiveScanInProgress)

	require.NoError(t, o.StopBonjour())
	require.NoError(t, o.StopBonjour())

	assert.False(t, o.CurrentState().PassiveDiscoveryActive)
}

func TestStartBonjourWithoutSourceFails(t *testing.T) {
	ctrl := gomock.NewController(t)

	sched := NewMockScheduler(ctrl)
	prober := probe.NewMockProber(ctrl)

	o, err := New(sched, prober, nil, nil, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.ErrorIs(t, o.StartBonjour(context.Background()), ErrNoPassiveSource)
}
