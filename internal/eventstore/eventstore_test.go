package eventstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/testutil"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func planted(id string, minute int) event.Event {
	return testutil.Planted(id, t0.Add(time.Duration(minute)*time.Minute), "sprout-"+id, event.Season2Weeks, event.EnvironmentFertile, 2)
}

func TestStore_AppendDedupesByClientID(t *testing.T) {
	s := New()
	e := planted("e1", 0)

	assert.True(t, s.Append(e))
	assert.False(t, s.Append(e))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("e1"))
	assert.False(t, s.Has("e2"))
}

func TestStore_MergeReturnsOnlyNew(t *testing.T) {
	s := New(planted("e1", 0))

	added := s.Merge([]event.Event{planted("e1", 0), planted("e2", 1), planted("e2", 1), planted("e3", 2)})

	require.Len(t, added, 2)
	assert.Equal(t, "e2", added[0].ClientID)
	assert.Equal(t, "e3", added[1].ClientID)
	assert.Equal(t, 3, s.Len())
}

func TestStore_IdempotentMergeLeavesStateUnchanged(t *testing.T) {
	s := New(planted("e1", 0), testutil.Watered("e2", t0.Add(time.Hour), "sprout-e1"))
	before := s.State()
	events := s.Events()

	assert.Empty(t, s.Merge(events))
	assert.Equal(t, before, s.State())
	assert.Equal(t, events, s.Events())
}

func TestStore_MergeRecordsServerTimestamp(t *testing.T) {
	local := planted("e1", 0)
	s := New(local)

	calls := 0
	s.OnChange(func() { calls++ })

	confirmed := local.WithServerTimestamp(t0.Add(time.Second))
	assert.Empty(t, s.Merge([]event.Event{confirmed}))

	got, ok := s.Get("e1")
	require.True(t, ok)
	require.NotNil(t, got.ServerTimestamp)
	assert.Equal(t, t0.Add(time.Second), *got.ServerTimestamp)
	assert.Zero(t, calls)
}

func TestStore_Confirm(t *testing.T) {
	s := New(planted("e1", 0))

	s.Confirm([]event.Event{
		planted("e1", 0).WithServerTimestamp(t0.Add(time.Minute)),
		planted("ghost", 0).WithServerTimestamp(t0),
	})

	got, _ := s.Get("e1")
	require.NotNil(t, got.ServerTimestamp)
	assert.Equal(t, t0.Add(time.Minute), *got.ServerTimestamp)
	assert.False(t, s.Has("ghost"))
}

func TestStore_StateMemoizedAndInvalidated(t *testing.T) {
	s := New(planted("e1", 0))

	first := s.State()
	assert.Equal(t, 8.0, first.SoilAvailable)

	s.Append(planted("e2", 1))
	second := s.State()
	assert.Equal(t, 6.0, second.SoilAvailable)
	assert.Len(t, second.Sprouts, 2)
}

func TestStore_StateIsACopy(t *testing.T) {
	s := New(planted("e1", 0))

	st := s.State()
	delete(st.Sprouts, "sprout-e1")

	assert.Contains(t, s.State().Sprouts, "sprout-e1")
}

func TestStore_ArrivalOrderDoesNotMatter(t *testing.T) {
	harvest := testutil.Harvested("e2", t0.Add(time.Hour), "sprout-e1", 4)

	a := New()
	a.Append(harvest)
	a.Append(planted("e1", 0))

	b := New()
	b.Merge([]event.Event{planted("e1", 0)})
	b.Merge([]event.Event{harvest})

	assert.Equal(t, b.State(), a.State())
	assert.Equal(t, derive.SproutCompleted, a.State().Sprouts["sprout-e1"].State)
}

func TestStore_Replace(t *testing.T) {
	s := New(planted("e1", 0), planted("e2", 1))
	calls := 0
	s.OnChange(func() { calls++ })

	s.Replace([]event.Event{planted("e3", 2), planted("e3", 2)})

	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Has("e1"))
	assert.True(t, s.Has("e3"))
	assert.Len(t, s.State().Sprouts, 1)
	assert.Equal(t, 1, calls)
}

func TestStore_Remove(t *testing.T) {
	s := New(planted("e1", 0), planted("e2", 1), planted("e3", 2))
	require.Len(t, s.State().Sprouts, 3)
	calls := 0
	s.OnChange(func() { calls++ })

	assert.Equal(t, 1, s.Remove("e2", "missing"))

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Has("e2"))
	got, ok := s.Get("e3")
	require.True(t, ok)
	assert.Equal(t, "e3", got.ClientID)
	assert.Len(t, s.State().Sprouts, 2)
	assert.Equal(t, 1, calls)

	assert.Zero(t, s.Remove("missing"))
	assert.Equal(t, 1, calls, "removing nothing is not a change")
}

func TestStore_OnChange(t *testing.T) {
	s := New()
	var order []string
	unsubA := s.OnChange(func() { order = append(order, "a") })
	s.OnChange(func() { order = append(order, "b") })

	s.Append(planted("e1", 0))
	s.Append(planted("e1", 0)) // duplicate, no notification
	unsubA()
	s.Append(planted("e2", 1))

	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestStore_ListenerMayReadStore(t *testing.T) {
	s := New()
	var seen int
	s.OnChange(func() { seen = s.Len() })

	s.Append(planted("e1", 0))

	assert.Equal(t, 1, seen)
}

func TestStore_Allowances(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(
		planted("e1", 0),
		testutil.Watered("w1", t0.Add(time.Hour), "sprout-e1"),
		testutil.SunShone("sun", t0.Add(2*time.Hour), "twig"),
	)

	got := s.Allowances(now)
	assert.Equal(t, 2, got.WaterRemaining)
	assert.Equal(t, 0, got.SunRemaining)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Append(planted(string(rune('a'+i)), i))
		}()
		go func() {
			defer wg.Done()
			_ = s.State()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.Len())
	assert.Len(t, s.State().Sprouts, 20)
}
