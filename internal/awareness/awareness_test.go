package awareness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gihan9a/roomsync/internal/clock"
	"gihan9a/roomsync/internal/replica"
)

type event struct {
	change Change
	origin any
}

type events struct {
	mu  sync.Mutex
	all []event
}

func (e *events) record(change Change, origin any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, event{change, origin})
}

func (e *events) list() []event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]event(nil), e.all...)
}

func newPair(t *testing.T) (*Awareness, *Awareness, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Unix(1000, 0))
	a := New(1, clk, nil)
	b := New(2, clk, nil)
	t.Cleanup(a.Destroy)
	t.Cleanup(b.Destroy)
	return a, b, clk
}

// relay copies the full local presence of from into to.
func relay(t *testing.T, from, to *Awareness) {
	t.Helper()
	update, err := from.EncodeUpdate([]replica.ClientID{from.ClientID()})
	require.NoError(t, err)
	require.NoError(t, to.ApplyUpdate(update, "remote"))
}

func TestSetLocalStateEvents(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	a := New(7, clk, nil)
	defer a.Destroy()

	updates, changes := &events{}, &events{}
	a.OnUpdate(updates.record)
	a.OnChange(changes.record)

	a.SetLocalStateField("user", map[string]any{"name": "alice"})
	a.SetLocalStateField("user", map[string]any{"name": "alice"})

	require.Len(t, updates.list(), 2)
	require.Len(t, changes.list(), 1)
	assert.Equal(t, []replica.ClientID{7}, changes.list()[0].change.Updated)

	a.SetLocalState(nil)
	assert.Nil(t, a.GetLocalState())
	last := changes.list()[len(changes.list())-1]
	assert.Equal(t, []replica.ClientID{7}, last.change.Removed)

	// Offline clients ignore field updates.
	a.SetLocalStateField("cursor", 3)
	assert.Nil(t, a.GetLocalState())
}

func TestApplyUpdateAddsUpdatesAndRemoves(t *testing.T) {
	a, b, _ := newPair(t)
	changes := &events{}
	b.OnChange(changes.record)

	a.SetLocalStateField("user", map[string]any{"name": "alice"})
	relay(t, a, b)
	require.Len(t, changes.list(), 1)
	assert.Equal(t, []replica.ClientID{1}, changes.list()[0].change.Added)
	assert.Equal(t, "remote", changes.list()[0].origin)

	states := b.GetStates()
	require.Contains(t, states, replica.ClientID(1))
	user := states[1]["user"].(map[string]any)
	assert.Equal(t, "alice", user["name"])

	a.SetLocalStateField("cursor", 4)
	relay(t, a, b)
	require.Len(t, changes.list(), 2)
	assert.Equal(t, []replica.ClientID{1}, changes.list()[1].change.Updated)

	a.SetLocalState(nil)
	relay(t, a, b)
	require.Len(t, changes.list(), 3)
	assert.Equal(t, []replica.ClientID{1}, changes.list()[2].change.Removed)
	assert.NotContains(t, b.GetStates(), replica.ClientID(1))
}

func TestStaleUpdateIsIgnored(t *testing.T) {
	a, b, _ := newPair(t)
	a.SetLocalStateField("n", 1)
	stale, err := a.EncodeUpdate([]replica.ClientID{1})
	require.NoError(t, err)

	a.SetLocalStateField("n", 2)
	relay(t, a, b)
	require.NoError(t, b.ApplyUpdate(stale, "late"))

	assert.EqualValues(t, 2, b.GetStates()[1]["n"])
}

func TestRenewalIsUpdateNotChange(t *testing.T) {
	a, b, _ := newPair(t)
	updates, changes := &events{}, &events{}
	b.OnUpdate(updates.record)
	b.OnChange(changes.record)

	relay(t, a, b)
	a.SetLocalState(a.GetLocalState())
	relay(t, a, b)

	assert.Len(t, updates.list(), 2)
	assert.Len(t, changes.list(), 1)
}

func TestRemoveStates(t *testing.T) {
	a, b, _ := newPair(t)
	relay(t, a, b)
	changes := &events{}
	b.OnChange(changes.record)

	b.RemoveStates([]replica.ClientID{1, 99}, "closed")
	require.Len(t, changes.list(), 1)
	assert.Equal(t, []replica.ClientID{1}, changes.list()[0].change.Removed)
	assert.Equal(t, "closed", changes.list()[0].origin)
	assert.Empty(t, b.RemoteClients())
}

func TestRemovingSelfWinsOverLastBroadcast(t *testing.T) {
	a, b, _ := newPair(t)
	relay(t, a, b)

	a.RemoveStates([]replica.ClientID{1}, "leaving")
	relay(t, a, b)

	assert.NotContains(t, b.GetStates(), replica.ClientID(1))
}

func TestRemoteRemovalOfSelfIsRefused(t *testing.T) {
	a, b, _ := newPair(t)
	relay(t, a, b)
	b.RemoveStates([]replica.ClientID{1}, "test")
	// b announces its view of client 1 as removed with the same clock.
	update, err := b.EncodeUpdate([]replica.ClientID{1})
	require.NoError(t, err)
	require.NoError(t, a.ApplyUpdate(update, "remote"))

	assert.NotNil(t, a.GetLocalState())
	// The bumped clock makes the next broadcast win on b.
	relay(t, a, b)
	assert.Contains(t, b.GetStates(), replica.ClientID(1))
}

func TestChangeAllIsUnion(t *testing.T) {
	c := Change{Added: []replica.ClientID{1}, Updated: []replica.ClientID{2, 3}, Removed: []replica.ClientID{4}}
	assert.Equal(t, []replica.ClientID{1, 2, 3, 4}, c.All())
}

func TestOutdatedStatesExpire(t *testing.T) {
	a, b, clk := newPair(t)
	relay(t, a, b)
	changes := &events{}
	b.OnChange(changes.record)

	clk.Advance(Timeout)
	b.CheckOutdated()

	require.Eventually(t, func() bool { return len(changes.list()) == 1 }, time.Second, time.Millisecond)
	got := changes.list()[0]
	assert.Equal(t, []replica.ClientID{1}, got.change.Removed)
	assert.Equal(t, OriginTimeout, got.origin)
	// The local state survives expiry.
	assert.NotNil(t, b.GetLocalState())
}

func TestLocalStateIsRenewed(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	a := New(1, clk, nil)
	defer a.Destroy()
	updates := &events{}
	a.OnUpdate(updates.record)

	clk.Advance(Timeout / 2)
	a.CheckOutdated()

	require.Eventually(t, func() bool { return len(updates.list()) >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []replica.ClientID{1}, updates.list()[0].change.Updated)
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	a, _, _ := newPair(t)
	assert.Error(t, a.ApplyUpdate([]byte{0xff}, nil))
}
