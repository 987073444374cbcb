package geofence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parkpal/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type engineHarness struct {
	engine  *Engine
	history *fakeHistory
	pusher  *fakePusher
	deleter *fakeDeleter
	cycles  atomic.Int64
}

func newEngineHarness(t *testing.T, pusher *fakePusher) *engineHarness {
	t.Helper()
	h := &engineHarness{history: newFakeHistory(), pusher: pusher, deleter: &fakeDeleter{}}
	notifier, err := NewNotifier(h.history, h.pusher, WithRetryOptions(fastRetry))
	require.NoError(t, err)
	h.engine = NewEngine(alice, NewExpiryFilter(h.deleter), notifier,
		WithEvaluationHook(func(Delta) { h.cycles.Add(1) }),
	)
	t.Cleanup(func() {
		if pusher.block != nil {
			select {
			case <-pusher.block:
			default:
				close(pusher.block)
			}
		}
		_ = h.engine.Close(context.Background())
	})
	return h
}

func TestEngineNotifiesWhenUserArrivesNearReport(t *testing.T) {
	h := newEngineHarness(t, &fakePusher{})
	reports := []models.ParkingReport{report("r1", madison, true, time.Now())}

	h.engine.UpdatePreferences(Preferences{Radius: 0.3, NotificationsEnabled: true})
	h.engine.UpdateReports(Snapshot{Seq: 1, Reports: reports})
	h.engine.UpdateLocation(madison)

	require.Eventually(t, func() bool { return h.pusher.count() == 1 }, waitFor, tick)
	require.Equal(t, []string{"r1"}, h.history.reportIDs("alice"))
	require.Equal(t, []string{"r1"}, h.engine.Membership())

	h.engine.UpdateLocation(madisonAfar)

	require.Eventually(t, func() bool { return len(h.history.reportIDs("alice")) == 0 }, waitFor, tick)
	require.Equal(t, 1, h.pusher.count())
	require.Empty(t, h.engine.Membership())
}

func TestEngineExpiredReportIsDeletedNotNotified(t *testing.T) {
	h := newEngineHarness(t, &fakePusher{})
	stale := []models.ParkingReport{report("old", madison, true, time.Now().Add(-3*time.Hour))}

	h.engine.UpdateLocation(madison)
	h.engine.UpdateReports(Snapshot{Seq: 1, Reports: stale})
	require.Eventually(t, func() bool { return len(h.deleter.ids()) == 1 }, waitFor, tick)

	h.engine.UpdateReports(Snapshot{Seq: 2, Reports: stale})
	h.engine.UpdateLocation(madison)
	require.Eventually(t, func() bool { return h.cycles.Load() >= 2 }, waitFor, tick)

	require.Equal(t, []string{"old"}, h.deleter.ids())
	require.Zero(t, h.pusher.count())
	require.Empty(t, h.history.reportIDs("alice"))
}

func TestEngineDisabledNotificationsNeverPush(t *testing.T) {
	h := newEngineHarness(t, &fakePusher{})

	h.engine.UpdatePreferences(Preferences{Radius: 1.0, NotificationsEnabled: false})
	h.engine.UpdateReports(Snapshot{Seq: 1, Reports: []models.ParkingReport{report("r1", madison, true, time.Now())}})
	h.engine.UpdateLocation(madison)

	require.Eventually(t, func() bool { return h.cycles.Load() >= 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.pusher.count())

	h.engine.UpdatePreferences(Preferences{Radius: 1.0, NotificationsEnabled: true})
	require.Eventually(t, func() bool { return h.pusher.count() == 1 }, waitFor, tick)
}

func TestEngineDiscardsSupersededSnapshot(t *testing.T) {
	h := newEngineHarness(t, &fakePusher{})
	reports := []models.ParkingReport{report("r1", madison, true, time.Now())}

	h.engine.UpdateReports(Snapshot{Seq: 5, Reports: reports})
	h.engine.UpdateReports(Snapshot{Seq: 3})

	h.engine.mu.Lock()
	seq := h.engine.snapshot.Seq
	count := len(h.engine.snapshot.Reports)
	h.engine.mu.Unlock()

	require.Equal(t, uint64(5), seq)
	require.Equal(t, 1, count)
}

func TestEngineCoalescesTriggersDuringInflightCycle(t *testing.T) {
	pusher := &fakePusher{block: make(chan struct{})}
	h := newEngineHarness(t, pusher)

	h.engine.UpdateReports(Snapshot{Seq: 1, Reports: []models.ParkingReport{report("r1", madison, true, time.Now())}})
	h.engine.UpdateLocation(madison)
	require.Eventually(t, func() bool { return pusher.waiting.Load() == 1 }, waitFor, tick)

	completed := h.cycles.Load()
	for i := 0; i < 50; i++ {
		h.engine.UpdateLocation(madison)
	}
	close(pusher.block)

	require.Eventually(t, func() bool { return h.cycles.Load() == completed+2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, completed+2, h.cycles.Load())
	require.Equal(t, 1, pusher.count())
	require.Equal(t, int32(1), pusher.waiting.Load())
}

func TestEngineCloseAbortsInflightPush(t *testing.T) {
	pusher := &fakePusher{block: make(chan struct{})}
	h := newEngineHarness(t, pusher)

	h.engine.UpdateReports(Snapshot{Seq: 1, Reports: []models.ParkingReport{report("r1", madison, true, time.Now())}})
	h.engine.UpdateLocation(madison)
	require.Eventually(t, func() bool { return pusher.waiting.Load() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, h.engine.Close(ctx))

	select {
	case <-h.engine.done:
	default:
		t.Fatal("worker still running after Close")
	}
	require.Zero(t, pusher.count())

	h.engine.UpdateLocation(madisonAfar)
	_, ok := h.engine.Location()
	require.True(t, ok)
	loc, _ := h.engine.Location()
	require.Equal(t, madison, loc, "updates after Close are ignored")
}

func TestEngineCloseRunsReleasesOnce(t *testing.T) {
	h := newEngineHarness(t, &fakePusher{})
	var released atomic.Int32
	h.engine.Bind(func() { released.Add(1) })

	require.NoError(t, h.engine.Close(context.Background()))
	require.NoError(t, h.engine.Close(context.Background()))
	require.Equal(t, int32(1), released.Load())

	h.engine.Bind(func() { released.Add(1) })
	require.Equal(t, int32(2), released.Load(), "binding after Close releases immediately")
}

func TestEngineRecoversFromPanickingCycle(t *testing.T) {
	history := newFakeHistory()
	notifier, err := NewNotifier(history, &fakePusher{}, WithRetryOptions(fastRetry))
	require.NoError(t, err)

	var cycles atomic.Int32
	engine := NewEngine(alice, nil, notifier, WithEvaluationHook(func(Delta) {
		if cycles.Add(1) == 1 {
			panic("boom")
		}
	}))
	defer engine.Close(context.Background())

	engine.UpdateLocation(madison)
	require.Eventually(t, func() bool { return cycles.Load() == 1 }, waitFor, tick)

	engine.UpdateReports(Snapshot{Seq: 1, Reports: []models.ParkingReport{report("r1", madison, true, time.Now())}})
	require.Eventually(t, func() bool { return len(history.reportIDs("alice")) == 1 }, waitFor, tick)
}

func TestEngineIgnoresPositionJitter(t *testing.T) {
	history := newFakeHistory()
	notifier, err := NewNotifier(history, &fakePusher{}, WithRetryOptions(fastRetry))
	require.NoError(t, err)

	var cycles atomic.Int64
	engine := NewEngine(alice, nil, notifier,
		WithMinMove(DefaultMinMoveMeters),
		WithEvaluationHook(func(Delta) { cycles.Add(1) }),
	)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	engine.UpdateLocation(madison)
	require.Eventually(t, func() bool { return cycles.Load() == 1 }, waitFor, tick)

	// About 3 m north: below the threshold.
	engine.UpdateLocation(Location{Latitude: madison.Latitude + 0.00003, Longitude: madison.Longitude})
	require.Never(t, func() bool { return cycles.Load() > 1 }, 100*time.Millisecond, tick)
	loc, ok := engine.Location()
	require.True(t, ok)
	require.Equal(t, madison, loc)

	engine.UpdateLocation(madisonAfar)
	require.Eventually(t, func() bool { return cycles.Load() == 2 }, waitFor, tick)
	loc, _ = engine.Location()
	require.Equal(t, madisonAfar, loc)
}
