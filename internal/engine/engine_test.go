package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/economy"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventstore"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/testutil"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// flakyRemote wraps Memory with push failures the in-memory store cannot
// produce on its own.
type flakyRemote struct {
	*remote.Memory

	mu      sync.Mutex
	pushErr error
	reject  map[string]bool
}

func (r *flakyRemote) Push(ctx context.Context, events []event.Event) (remote.PushResult, error) {
	r.mu.Lock()
	pushErr := r.pushErr
	r.mu.Unlock()
	if pushErr != nil {
		return remote.PushResult{}, pushErr
	}
	for _, e := range events {
		if r.reject[e.ClientID] {
			return remote.PushResult{}, fmt.Errorf("%w: %s refused", remote.ErrRejected, e.ClientID)
		}
	}
	return r.Memory.Push(ctx, events)
}

func (r *flakyRemote) failPushes(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushErr = err
}

type fixture struct {
	clock  *testutil.DeterministicClock
	remote *remote.Memory
	blob   *cache.MemoryBlob
	engine *Engine
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewDeterministicClock(t0, time.Second)
	f := &fixture{
		clock:  clock,
		remote: remote.NewMemory(clock.Tick),
		blob:   cache.NewMemoryBlob(),
	}
	f.engine = f.start(t, f.remote)
	return f
}

// start builds and starts an engine over the fixture's cache, as a fresh
// process would.
func (f *fixture) start(t *testing.T, r remote.Remote) *Engine {
	t.Helper()
	e, err := New(Config{
		Store:  eventstore.New(),
		Cache:  cache.New(f.blob),
		Remote: r,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func seedRemote(t *testing.T, r *remote.Memory, events ...event.Event) {
	t.Helper()
	_, err := r.Push(context.Background(), events)
	require.NoError(t, err)
}

func TestNew_RequiresStoreAndRemote(t *testing.T) {
	_, err := New(Config{Remote: remote.NewMemory(time.Now)})
	assert.Error(t, err)

	_, err = New(Config{Store: eventstore.New()})
	assert.Error(t, err)

	e, err := New(Config{Store: eventstore.New(), Remote: remote.NewMemory(time.Now)})
	require.NoError(t, err)
	assert.Equal(t, StatusUninitialized, e.Status())
	assert.Nil(t, e.Watermark())
}

func TestSmartSync_FirstSyncIsFull(t *testing.T) {
	f := newFixture(t)
	seedRemote(t, f.remote,
		testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2),
		testutil.Watered("w1", t0.Add(time.Hour), "s1"),
	)

	res := f.engine.SmartSync(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 2, res.Pulled)
	assert.Equal(t, StatusSynced, f.engine.Status())
	assert.Equal(t, 2, f.engine.Store().Len())

	remoteEvents := f.remote.Events()
	require.NotNil(t, f.engine.Watermark())
	assert.True(t, remoteEvents[1].ServerTimestamp.Equal(*f.engine.Watermark()))

	state := f.engine.Store().State()
	assert.InDelta(t, 8.05, state.SoilAvailable, 1e-9)
}

func TestSmartSync_IncrementalAfterWatermark(t *testing.T) {
	f := newFixture(t)
	seedRemote(t, f.remote, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)

	// Another device writes while this one is idle.
	seedRemote(t, f.remote, testutil.Watered("w1", t0.Add(time.Hour), "s1"))

	res := f.engine.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 2, f.engine.Store().Len())

	res = f.engine.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 0, res.Pulled)
}

func TestStart_RestoresFromCache(t *testing.T) {
	f := newFixture(t)
	seedRemote(t, f.remote, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)

	restarted := f.start(t, f.remote)

	assert.Equal(t, 1, restarted.Store().Len(), "cached state is served before any sync")
	require.NotNil(t, restarted.Watermark())
	assert.True(t, f.engine.Watermark().Equal(*restarted.Watermark()))

	res := restarted.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ModeIncremental, res.Mode)
}

func TestStart_CorruptCacheForcesFullSync(t *testing.T) {
	f := newFixture(t)
	seedRemote(t, f.remote, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)

	require.NoError(t, f.blob.Set(context.Background(), []byte(`{"version":1,"events":[`)))

	restarted := f.start(t, f.remote)
	assert.Equal(t, 0, restarted.Store().Len())

	res := restarted.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, restarted.Store().Len())

	snap, err := cache.New(f.blob).Load(context.Background())
	require.NoError(t, err, "full sync rewrites a clean cache")
	assert.Len(t, snap.Events, 1)
}

func TestStart_CanceledContext(t *testing.T) {
	e, err := New(Config{Store: eventstore.New(), Remote: remote.NewMemory(time.Now)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Start(ctx), context.Canceled)
}

func TestSmartSync_OfflineServesCachedState(t *testing.T) {
	f := newFixture(t)
	seedRemote(t, f.remote, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)
	before := f.engine.Store().State()

	f.remote.SetOffline(true)
	res := f.engine.SmartSync(context.Background())

	require.Error(t, res.Err)
	assert.True(t, IsOffline(res.Err))
	assert.False(t, IsUnauthorized(res.Err))
	assert.Equal(t, StatusOffline, f.engine.Status())
	assert.NoError(t, f.engine.Err(), "network failure is not a permanent error")
	assert.Equal(t, before, f.engine.Store().State())
}

func TestSmartSync_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.remote.SetUnauthorized()

	res := f.engine.SmartSync(context.Background())

	require.Error(t, res.Err)
	assert.True(t, IsUnauthorized(res.Err))
	assert.ErrorIs(t, res.Err, remote.ErrUnauthorized)
	assert.Equal(t, StatusOffline, f.engine.Status())
	assert.True(t, IsUnauthorized(f.engine.Err()))
}

func TestPushEvent_DeliversAndConfirms(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)

	planted := testutil.Planted("p1", t0, "s1", event.Season2Weeks, event.EnvironmentFertile, 1)
	require.NoError(t, f.engine.PushEvent(context.Background(), planted))

	assert.Empty(t, f.engine.Pending())
	assert.Equal(t, StatusSynced, f.engine.Status())
	require.Len(t, f.remote.Events(), 1)

	local, ok := f.engine.Store().Get("p1")
	require.True(t, ok)
	require.NotNil(t, local.ServerTimestamp, "local copy carries the server timestamp")
	assert.True(t, f.remote.Events()[0].ServerTimestamp.Equal(*local.ServerTimestamp))
	assert.Nil(t, f.engine.Watermark(), "only a pull moves the watermark")
}

func TestPushEvent_RejectsMalformedLocally(t *testing.T) {
	f := newFixture(t)

	bad := event.New(event.KindSproutWatered, "w1", t0, event.NewPayload())
	err := f.engine.PushEvent(context.Background(), bad)

	require.Error(t, err)
	assert.True(t, event.IsMalformed(err))
	assert.Equal(t, 0, f.engine.Store().Len())
	assert.Equal(t, 0, f.remote.Pushes())
}

func TestPushEvent_OfflineQueuesDurably(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)
	f.remote.SetOffline(true)

	planted := testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2)
	err := f.engine.PushEvent(context.Background(), planted)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueued)
	assert.True(t, IsOffline(err))
	assert.Equal(t, []string{"p1"}, f.engine.Pending())
	assert.Equal(t, StatusPendingUpload, f.engine.Status())
	assert.Equal(t, 8.0, f.engine.Store().State().SoilAvailable, "the write is visible before delivery")

	// The process dies; the queue survives in the cache.
	restarted := f.start(t, f.remote)
	assert.Equal(t, []string{"p1"}, restarted.Pending())

	f.remote.SetOffline(false)
	res := restarted.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Empty(t, restarted.Pending())
	assert.Equal(t, StatusSynced, restarted.Status())
	assert.Len(t, f.remote.Events(), 1)
	assert.Equal(t, 1, restarted.Store().Len())
}

func TestPushEvent_DuplicateIsSuccess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)

	planted := testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2)
	require.NoError(t, f.engine.PushEvent(context.Background(), planted))
	require.NoError(t, f.engine.PushEvent(context.Background(), planted))

	assert.Equal(t, 1, f.engine.Store().Len())
	assert.Len(t, f.remote.Events(), 1)
	assert.Len(t, f.engine.Store().State().Sprouts, 1)
}

func TestPushEvent_LostAcknowledgement(t *testing.T) {
	f := newFixture(t)
	planted := testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2)

	// An earlier attempt reached the remote but the reply never arrived.
	seedRemote(t, f.remote, planted)

	require.NoError(t, f.engine.PushEvent(context.Background(), planted))
	assert.Empty(t, f.engine.Pending())
	assert.Len(t, f.remote.Events(), 1)
}

func TestSmartSync_FullPullKeepsPendingEvents(t *testing.T) {
	clock := testutil.NewDeterministicClock(t0, time.Second)
	flaky := &flakyRemote{Memory: remote.NewMemory(clock.Tick)}
	f := &fixture{clock: clock, remote: flaky.Memory, blob: cache.NewMemoryBlob()}
	e := f.start(t, flaky)

	seedRemote(t, flaky.Memory, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))
	flaky.failPushes(fmt.Errorf("%w: gateway timeout", remote.ErrUnavailable))

	local := testutil.Watered("w1", t0.Add(time.Hour), "s1")
	require.ErrorIs(t, e.PushEvent(context.Background(), local), ErrQueued)

	res := e.SmartSync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ModeFull, res.Mode)

	assert.True(t, e.Store().Has("p1"))
	assert.True(t, e.Store().Has("w1"), "full pull must not drop undelivered writes")
	assert.Equal(t, []string{"w1"}, e.Pending())
	assert.Equal(t, StatusPendingUpload, e.Status())

	flaky.failPushes(nil)
	require.NoError(t, e.SmartSync(context.Background()).Err)
	assert.Empty(t, e.Pending())
	assert.Len(t, flaky.Events(), 2)
}

func TestSmartSync_RejectedEventDroppedFromQueue(t *testing.T) {
	clock := testutil.NewDeterministicClock(t0, time.Second)
	flaky := &flakyRemote{
		Memory: remote.NewMemory(clock.Tick),
		reject: map[string]bool{"bad": true},
	}
	f := &fixture{clock: clock, remote: flaky.Memory, blob: cache.NewMemoryBlob()}
	e := f.start(t, flaky)

	// Submit records without delivering while no Run loop is draining.
	require.NoError(t, e.Submit(context.Background(), testutil.SunShone("bad", t0, "twig-a")))
	require.NoError(t, e.Submit(context.Background(), testutil.LeafCreated("good", t0, "leaf-1", "twig-a", "Reading")))
	assert.Equal(t, []string{"bad", "good"}, e.Pending())

	res := e.SmartSync(context.Background())
	require.NoError(t, res.Err)

	assert.Empty(t, e.Pending())
	remoteEvents := flaky.Events()
	require.Len(t, remoteEvents, 1)
	assert.Equal(t, "good", remoteEvents[0].ClientID)

	assert.False(t, e.Store().Has("bad"))
	assert.True(t, e.Store().Has("good"))
	assert.Empty(t, e.Store().State().SunEntries)
}

func TestPushEvent_Rejected(t *testing.T) {
	clock := testutil.NewDeterministicClock(t0, time.Second)
	flaky := &flakyRemote{
		Memory: remote.NewMemory(clock.Tick),
		reject: map[string]bool{"bad": true},
	}
	f := &fixture{clock: clock, remote: flaky.Memory, blob: cache.NewMemoryBlob()}
	e := f.start(t, flaky)

	err := e.PushEvent(context.Background(), testutil.SunShone("bad", t0, "twig-a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.False(t, errors.Is(err, ErrQueued))
	assert.Empty(t, e.Pending())
	assert.False(t, e.Store().Has("bad"))
	assert.Empty(t, e.Store().State().SunEntries)
	assert.Equal(t, economy.StartingCapacity, e.Store().State().SoilAvailable)

	restarted := f.start(t, flaky)
	assert.False(t, restarted.Store().Has("bad"), "the cache no longer carries the rejected event")
	assert.Empty(t, restarted.Pending())
}

func TestSubmit_DeliveredByRunLoop(t *testing.T) {
	f := newFixture(t)
	runEngine(t, f.engine)

	require.NoError(t, f.engine.Submit(context.Background(), testutil.SunShone("sun-1", t0, "twig-a")))
	assert.True(t, f.engine.Store().Has("sun-1"), "phase one is synchronous")

	require.Eventually(t, func() bool {
		return len(f.remote.Events()) == 1 && len(f.engine.Pending()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmit_AfterStop(t *testing.T) {
	f := newFixture(t)
	f.engine.Stop()

	err := f.engine.Submit(context.Background(), testutil.SunShone("sun-1", t0, "twig-a"))
	assert.ErrorIs(t, err, ErrQueued)
	assert.True(t, f.engine.Store().Has("sun-1"))
	assert.Equal(t, []string{"sun-1"}, f.engine.Pending())
}

func TestSubscribeToRealtime_MergesOtherDevices(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SmartSync(context.Background()).Err)
	watermark := f.engine.Watermark()
	runEngine(t, f.engine)

	var mu sync.Mutex
	var received []string
	sub, err := f.engine.SubscribeToRealtime(context.Background(), func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.ClientID)
	})
	require.NoError(t, err)
	defer sub.Close()

	planted := testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2)
	seedRemote(t, f.remote, planted)

	require.Eventually(t, func() bool {
		return f.engine.Store().Has("p1")
	}, 2*time.Second, 10*time.Millisecond)

	// A repeated delivery is merged away without a second notification.
	f.engine.queue.Enqueue(job{kind: jobRealtime, event: f.remote.Events()[0], onEvent: func(event.Event) {
		t.Error("duplicate realtime event reported as new")
	}})
	require.Eventually(t, func() bool {
		snap, err := cache.New(f.blob).Load(context.Background())
		return err == nil && len(snap.Events) == 1 && f.engine.queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "realtime merges are persisted")

	mu.Lock()
	assert.Equal(t, []string{"p1"}, received)
	mu.Unlock()
	assert.Equal(t, watermark, f.engine.Watermark(), "realtime events do not move the watermark")
}

func TestSubscribeToRealtime_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.remote.SetUnauthorized()

	sub, err := f.engine.SubscribeToRealtime(context.Background(), nil)
	assert.Nil(t, sub)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.True(t, IsUnauthorized(f.engine.Err()))
}

func TestStartVisibilitySync(t *testing.T) {
	f := newFixture(t)
	runEngine(t, f.engine)

	seedRemote(t, f.remote, testutil.Planted("p1", t0, "s1", event.Season1Month, event.EnvironmentFirm, 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	visible := make(chan struct{})
	f.engine.StartVisibilitySync(ctx, visible)

	visible <- struct{}{}

	require.Eventually(t, func() bool {
		return f.engine.Store().Has("p1") && f.engine.Status() == StatusSynced
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.remote.Pulls(), 1)
}

func TestRequestSync_Coalesces(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.engine.RequestSync())
	assert.True(t, f.engine.RequestSync())
	assert.True(t, f.engine.RequestSync())
	assert.Equal(t, 1, f.engine.queue.Len())

	f.engine.Stop()
	f.engine.syncQueued.Store(false)
	assert.False(t, f.engine.RequestSync())
}

func TestRun_StopsOnStopAndCancel(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()
	f.engine.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after stop")
	}

	g := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- g.engine.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

// Two devices writing under the same identity converge on the same derived
// state whatever order the events reach each of them.
func TestTwoDevicesConverge(t *testing.T) {
	f := newFixture(t)
	phone := f.engine
	laptop := (&fixture{remote: f.remote, blob: cache.NewMemoryBlob()}).start(t, f.remote)

	ctx := context.Background()
	require.NoError(t, phone.PushEvent(ctx, testutil.Planted("p1", t0, "s1", event.Season3Months, event.EnvironmentBarren, 8)))
	require.NoError(t, laptop.SmartSync(ctx).Err)
	require.NoError(t, laptop.PushEvent(ctx, testutil.Watered("w1", t0.Add(2*time.Hour), "s1")))

	// The phone goes offline and harvests; the write carries an earlier
	// client timestamp than the laptop's later sun entry.
	f.remote.SetOffline(true)
	require.ErrorIs(t, phone.PushEvent(ctx, testutil.Harvested("h1", t0.Add(3*time.Hour), "s1", 4)), ErrQueued)
	f.remote.SetOffline(false)
	require.NoError(t, laptop.PushEvent(ctx, testutil.SunShone("sun-1", t0.Add(4*time.Hour), "twig-a")))

	require.NoError(t, phone.SmartSync(ctx).Err)
	require.NoError(t, laptop.SmartSync(ctx).Err)

	assert.Equal(t, 4, phone.Store().Len())
	assert.Equal(t, 4, laptop.Store().Len())
	assert.Equal(t, phone.Store().State(), laptop.Store().State())
	assert.Equal(t, event.MustLogHash(phone.Store().Events()), event.MustLogHash(laptop.Store().Events()))
	assert.Equal(t, derivedFromRemote(t, f.remote), phone.Store().State())
}

func derivedFromRemote(t *testing.T, r *remote.Memory) derive.State {
	t.Helper()
	return eventstore.New(r.Events()...).State()
}
