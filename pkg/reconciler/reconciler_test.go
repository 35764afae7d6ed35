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

package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/devstore"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

type memStore struct {
	mu      sync.Mutex
	saves   int
	devices []*models.Device
	loadErr error
}

var _ devstore.Store = (*memStore)(nil)

func (s *memStore) Load(_ context.Context, _ string) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	return append([]*models.Device(nil), s.devices...), nil
}

func (s *memStore) Save(_ context.Context, _ string, devices []*models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	s.devices = devices

	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

type stubClassifier struct {
	calls int
}

func (s *stubClassifier) Classify(d *models.Device) *models.Classification {
	s.calls++

	if strings.Contains(d.Hostname, "printer") {
		return &models.Classification{Kind: models.KindPrinter, Confidence: 80, Reason: "hostname"}
	}

	return &models.Classification{Kind: models.KindUnknown}
}

func newTestReconciler(t *testing.T, cfg Config, store devstore.Store, classifier Classifier) (*Reconciler, *bus.Bus) {
	t.Helper()

	b := bus.New(8, logger.NewTestLogger())
	t.Cleanup(b.Close)

	r, err := New(cfg, b, store, classifier, logger.NewTestLogger())
	require.NoError(t, err)

	return r, b
}

func recvMutation(t *testing.T, ch <-chan models.Mutation) models.Mutation {
	t.Helper()

	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mutation")
	}

	return models.Mutation{}
}

func TestNewRequiresCollaborators(t *testing.T) {
	b := bus.New(4, logger.NewTestLogger())
	defer b.Close()

	_, err := New(Config{}, nil, &memStore{}, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilBus)

	_, err = New(Config{}, b, nil, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilStore)
}

func TestUpsertKeepsMACIdentityAcrossIPChanges(t *testing.T) {
	store := &memStore{}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{
		MAC:       "AA:BB:CC:00:11:22",
		PrimaryIP: "192.168.1.10",
	}, models.SourceARP)

	r.Upsert(ctx, &models.Device{
		MAC:       "AA:BB:CC:00:11:22",
		PrimaryIP: "10.0.0.5",
	}, models.SourceARP)

	require.Equal(t, 1, r.Count())

	d, ok := r.Device("AA:BB:CC:00:11:22")
	require.True(t, ok)
	assert.Equal(t, []string{"192.168.1.10", "10.0.0.5"}, d.IPs)
	assert.Equal(t, "10.0.0.5", d.PrimaryIP)
}

func TestUpsertIPOnlyThenMACStaysSeparateRecords(t *testing.T) {
	store := &memStore{}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10"}, models.SourcePing)
	r.Upsert(ctx, &models.Device{MAC: "AA:BB:CC:00:11:22", PrimaryIP: "192.168.1.10"}, models.SourceARP)

	assert.Equal(t, 2, r.Count())
}

func TestUpsertIdempotence(t *testing.T) {
	store := &memStore{}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	ctx := context.Background()
	observed := &models.Device{MAC: "AA:BB:CC:00:11:22", PrimaryIP: "192.168.1.10"}

	r.Upsert(ctx, observed, models.SourceARP)

	first, ok := r.Device("AA:BB:CC:00:11:22")
	require.True(t, ok)

	r.Upsert(ctx, observed, models.SourceARP)

	second, ok := r.Device("AA:BB:CC:00:11:22")
	require.True(t, ok)

	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.GreaterOrEqual(t, second.LastSeen.UnixNano(), first.LastSeen.UnixNano())
	assert.Equal(t, first.IPs, second.IPs)
}

func TestUpsertWithNoIdentityFallsBackToGeneratedID(t *testing.T) {
	store := &memStore{}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	r.Upsert(context.Background(), &models.Device{Vendor: "Acme"}, models.SourceManual)

	devices := r.Snapshot()
	require.Len(t, devices, 1)
	assert.NotEmpty(t, devices[0].ID)
	assert.Equal(t, "Acme", devices[0].Vendor)
}

func TestNoOpMergeEmitsNothingAndSkipsPersist(t *testing.T) {
	store := &memStore{}
	r, b := newTestReconciler(t, Config{}, store, nil)

	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return frozen }

	ch, unsub := b.Subscribe(false)
	defer unsub()

	ctx := context.Background()
	observed := &models.Device{PrimaryIP: "192.168.1.10"}

	r.Upsert(ctx, observed, models.SourcePing)
	r.Upsert(ctx, observed, models.SourcePing)

	m := recvMutation(t, ch)
	assert.True(t, m.Canonical)
	assert.Nil(t, m.Before)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second mutation: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 1, store.saveCount())
}

func TestFoldFromBusEmitsCanonicalChange(t *testing.T) {
	store := &memStore{}
	r, b := newTestReconciler(t, Config{}, store, nil)

	ch, unsub := b.Subscribe(false)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// the initial replay for subscribers
	snapshot := recvMutation(t, ch)
	assert.Equal(t, models.MutationSnapshot, snapshot.Kind)
	assert.True(t, snapshot.Canonical)
	assert.Empty(t, snapshot.Devices)

	rtt := 3.2
	b.Emit(models.NewChange(nil, &models.Device{
		PrimaryIP:        "10.0.0.201",
		DiscoverySources: []models.DiscoverySource{models.SourcePing},
		RTTMillis:        &rtt,
	}, nil, models.SourcePing))

	raw := recvMutation(t, ch)
	assert.False(t, raw.Canonical)

	canonical := recvMutation(t, ch)
	require.True(t, canonical.Canonical)
	require.NotNil(t, canonical.After)
	assert.Nil(t, canonical.Before)
	assert.Equal(t, "10.0.0.201", canonical.After.ID)
	assert.Equal(t, models.SourcePing, canonical.Source)
	require.NotNil(t, canonical.After.RTTMillis)
	assert.InDelta(t, 3.2, *canonical.After.RTTMillis, 0.0001)

	// canonical output must not loop back through the fold
	require.Eventually(t, func() bool { return r.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, store.saveCount())
}

func TestCausalOrderingOfBeforeAfterChain(t *testing.T) {
	store := &memStore{}
	r, b := newTestReconciler(t, Config{}, store, nil)

	ch, unsub := b.Subscribe(false)
	defer unsub()

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10"}, models.SourcePing)
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10", Hostname: "a.local"}, models.SourceMDNS)
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10", Vendor: "Acme"}, models.SourceSNMP)

	first := recvMutation(t, ch)
	second := recvMutation(t, ch)
	third := recvMutation(t, ch)

	assert.Nil(t, first.Before)
	require.NotNil(t, second.Before)
	assert.Equal(t, first.After, second.Before)
	require.NotNil(t, third.Before)
	assert.Equal(t, second.After, third.Before)
}

func TestBroadcastProbeResultDiscarded(t *testing.T) {
	store := &memStore{}
	cfg := Config{
		BroadcastFilter: func(ip string) bool { return strings.HasSuffix(ip, ".255") },
	}

	r, _ := newTestReconciler(t, cfg, store, nil)

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.255"}, models.SourcePing)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, store.saveCount())

	// the guard is scoped to reachability probes
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.255"}, models.SourceManual)
	assert.Equal(t, 1, r.Count())
}

func TestClassificationTriggerRule(t *testing.T) {
	store := &memStore{}
	classifier := &stubClassifier{}
	r, _ := newTestReconciler(t, Config{}, store, classifier)

	ctx := context.Background()

	// creation with no classification-relevant fields
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10"}, models.SourcePing)
	assert.Equal(t, 0, classifier.calls)

	// fingerprint-only merge must not recompute
	r.Upsert(ctx, &models.Device{
		PrimaryIP:    "192.168.1.10",
		Fingerprints: map[string]string{"http.server": "nginx"},
	}, models.SourceHTTP)
	assert.Equal(t, 0, classifier.calls)

	d, ok := r.Device("192.168.1.10")
	require.True(t, ok)
	assert.Nil(t, d.Classification)

	// hostname change triggers a recompute
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10", Hostname: "printer.local"}, models.SourceMDNS)
	assert.Equal(t, 1, classifier.calls)

	d, ok = r.Device("192.168.1.10")
	require.True(t, ok)
	require.NotNil(t, d.Classification)
	assert.Equal(t, models.KindPrinter, d.Classification.Kind)

	// unchanged hostname does not retrigger
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10", Hostname: "printer.local"}, models.SourceMDNS)
	assert.Equal(t, 1, classifier.calls)
}

func TestSaveFailureKeepsInMemoryState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("bucket unavailable")

	store := devstore.NewMockStore(ctrl)
	gomock.InOrder(
		store.EXPECT().Save(gomock.Any(), devstore.DefaultKey, gomock.Any()).Return(boom),
		store.EXPECT().Save(gomock.Any(), devstore.DefaultKey, gomock.Any()).Return(nil),
	)

	b := bus.New(4, logger.NewTestLogger())
	defer b.Close()

	r, err := New(Config{}, b, store, nil, logger.NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "10.0.0.9"}, models.SourcePing)

	_, ok := r.Device("10.0.0.9")
	assert.True(t, ok, "merge must survive a failed save")
	assert.True(t, r.PersistenceDegraded())

	r.Upsert(ctx, &models.Device{PrimaryIP: "10.0.0.9", Hostname: "h.local"}, models.SourceMDNS)
	assert.False(t, r.PersistenceDegraded())
}

func TestLoadFailureStartsEmptyAndFlagsDegraded(t *testing.T) {
	store := &memStore{loadErr: errors.New("corrupt state")}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, 0, r.Count())
	assert.True(t, r.PersistenceDegraded())
}

func TestStartReplaysPersistedDevices(t *testing.T) {
	store := &memStore{devices: []*models.Device{
		{ID: "AA:BB:CC:00:11:22", MAC: "AA:BB:CC:00:11:22", PrimaryIP: "192.168.1.10"},
		{ID: "192.168.1.20", PrimaryIP: "192.168.1.20"},
	}}

	r, b := newTestReconciler(t, Config{}, store, nil)

	ch, unsub := b.Subscribe(false)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	snapshot := recvMutation(t, ch)
	require.Equal(t, models.MutationSnapshot, snapshot.Kind)
	assert.True(t, snapshot.Canonical)
	assert.Len(t, snapshot.Devices, 2)
	assert.Equal(t, 2, r.Count())
}

func TestRemoveAllClearsStateAndEmitsEmptySnapshot(t *testing.T) {
	store := &memStore{}
	r, b := newTestReconciler(t, Config{}, store, nil)

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10"}, models.SourcePing)
	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.20"}, models.SourcePing)
	require.Equal(t, 2, r.Count())

	ch, unsub := b.Subscribe(false)
	defer unsub()

	require.NoError(t, r.RemoveAll(ctx))

	assert.Equal(t, 0, r.Count())

	m := recvMutation(t, ch)
	assert.Equal(t, models.MutationSnapshot, m.Kind)
	assert.True(t, m.Canonical)
	assert.Empty(t, m.Devices)

	store.mu.Lock()
	assert.Empty(t, store.devices)
	store.mu.Unlock()
}

func TestOfflineSweepFlipsOverridePastGrace(t *testing.T) {
	store := &memStore{}
	r, b := newTestReconciler(t, Config{GraceWindow: time.Minute}, store, nil)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return t0 }

	ctx := context.Background()

	r.Upsert(ctx, &models.Device{PrimaryIP: "192.168.1.10"}, models.SourcePing)

	ch, unsub := b.Subscribe(false)
	defer unsub()

	// inside the grace window nothing happens
	r.now = func() time.Time { return t0.Add(30 * time.Second) }
	r.sweepOffline(ctx)

	d, _ := r.Device("192.168.1.10")
	assert.Nil(t, d.OnlineOverride)

	// past the grace window the override flips to false
	r.now = func() time.Time { return t0.Add(5 * time.Minute) }
	r.sweepOffline(ctx)

	m := recvMutation(t, ch)
	assert.True(t, m.Canonical)
	assert.Equal(t, []string{models.FieldOnlineOverride}, m.ChangedFields)

	d, _ = r.Device("192.168.1.10")
	require.NotNil(t, d.OnlineOverride)
	assert.False(t, *d.OnlineOverride)
	assert.False(t, d.Online(r.now(), time.Minute))

	// a second sweep is a no-op once the override is set
	r.sweepOffline(ctx)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected mutation from repeat sweep: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store := &memStore{}
	r, _ := newTestReconciler(t, Config{}, store, nil)

	r.Upsert(context.Background(), &models.Device{
		PrimaryIP: "192.168.1.10",
		IPs:       []string{"192.168.1.10"},
	}, models.SourcePing)

	snap := r.Snapshot()
	require.Len(t, snap, 1)

	snap[0].PrimaryIP = "mutated"
	snap[0].IPs[0] = "mutated"

	d, ok := r.Device("192.168.1.10")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", d.PrimaryIP)
	assert.Equal(t, []string{"192.168.1.10"}, d.IPs)
}
