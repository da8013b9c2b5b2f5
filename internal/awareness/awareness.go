// Package awareness tracks ephemeral per-client presence for a room.
//
// Each client owns one state, a JSON-like object, or nil when offline, and
// a clock it bumps on every change. Receivers keep the state with the
// highest clock. States not renewed within Timeout are dropped, and the
// local state is renewed at half that period so peers never expire it.
package awareness

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"gihan9a/roomsync/internal/clock"
	"gihan9a/roomsync/internal/observable"
	"gihan9a/roomsync/internal/replica"
)

// Timeout is how long a remote state survives without renewal.
const Timeout = 30 * time.Second

// State is one client's presence payload.
type State = map[string]any

// OriginTimeout is the origin of removals caused by expiry.
const OriginTimeout = "timeout"

// Change lists the clients touched by one presence update.
type Change struct {
	Added   []replica.ClientID
	Updated []replica.ClientID
	Removed []replica.ClientID
}

// All returns added, updated and removed ids as one set.
func (c Change) All() []replica.ClientID {
	out := make([]replica.ClientID, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	out = append(out, c.Removed...)
	return out
}

func (c Change) empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Func observes presence updates.
type Func func(change Change, origin any)

type meta struct {
	clock       uint64
	lastUpdated time.Time
}

// Awareness is safe for concurrent use.
type Awareness struct {
	client replica.ClientID
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	states map[replica.ClientID]State
	meta   map[replica.ClientID]meta

	updates *observable.Registry[Func]
	changes *observable.Registry[Func]

	stopOnce sync.Once
	stop     chan struct{}
	ticker   *clock.Ticker
}

// New creates a directory whose local client starts with an empty state,
// and starts the expiry loop. Call Destroy to stop it.
func New(client replica.ClientID, clk clock.Clock, logger *zap.Logger) *Awareness {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Awareness{
		client:  client,
		clock:   clk,
		logger:  logger,
		states:  make(map[replica.ClientID]State),
		meta:    make(map[replica.ClientID]meta),
		updates: observable.New[Func](logger),
		changes: observable.New[Func](logger),
		stop:    make(chan struct{}),
	}
	a.SetLocalState(State{})
	a.ticker = clk.NewTicker(Timeout / 10)
	go a.expireLoop()
	return a
}

func (a *Awareness) ClientID() replica.ClientID { return a.client }

// OnUpdate observes every accepted update, including renewals that do
// not change content.
func (a *Awareness) OnUpdate(fn Func) (unsubscribe func()) { return a.updates.Register(fn) }

// OnChange observes updates that add, remove or alter a state.
func (a *Awareness) OnChange(fn Func) (unsubscribe func()) { return a.changes.Register(fn) }

// Destroy stops the expiry loop and marks the local client offline.
func (a *Awareness) Destroy() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.ticker.Stop()
		a.SetLocalState(nil)
	})
}

func (a *Awareness) expireLoop() {
	for {
		select {
		case <-a.stop:
			return
		case <-a.ticker.C:
			a.CheckOutdated()
		}
	}
}

// GetLocalState returns the local client's state, nil when offline.
func (a *Awareness) GetLocalState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[a.client]
}

// SetLocalState replaces the local state. nil marks the client offline.
func (a *Awareness) SetLocalState(state State) {
	a.mu.Lock()
	m, known := a.meta[a.client]
	next := uint64(0)
	if known {
		next = m.clock + 1
	}
	prev, had := a.states[a.client]
	if state == nil {
		delete(a.states, a.client)
	} else {
		a.states[a.client] = state
	}
	a.meta[a.client] = meta{clock: next, lastUpdated: a.clock.Now()}
	a.mu.Unlock()

	var update, change Change
	switch {
	case state == nil && had:
		update.Removed = []replica.ClientID{a.client}
		change.Removed = update.Removed
	case state != nil && !had:
		update.Added = []replica.ClientID{a.client}
		change.Added = update.Added
	case state != nil:
		update.Updated = []replica.ClientID{a.client}
		if !equal(prev, state) {
			change.Updated = update.Updated
		}
	}
	a.emit(update, change, "local")
}

// SetLocalStateField sets one field of the local state. It does nothing
// while the local client is offline.
func (a *Awareness) SetLocalStateField(field string, value any) {
	current := a.GetLocalState()
	if current == nil {
		return
	}
	next := maps.Clone(current)
	next[field] = value
	a.SetLocalState(next)
}

// GetStates returns a copy of the known states keyed by client.
func (a *Awareness) GetStates() map[replica.ClientID]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.states)
}

// RemoteClients returns the ids with a state, the local client excluded.
func (a *Awareness) RemoteClients() []replica.ClientID {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]replica.ClientID, 0, len(a.states))
	for id := range a.states {
		if id != a.client {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// RemoveStates drops the given clients. Removing the local client bumps
// its clock so the removal wins over the last broadcast state.
func (a *Awareness) RemoveStates(ids []replica.ClientID, origin any) {
	var removed []replica.ClientID
	a.mu.Lock()
	for _, id := range ids {
		if _, ok := a.states[id]; !ok {
			continue
		}
		delete(a.states, id)
		if id == a.client {
			m := a.meta[id]
			a.meta[id] = meta{clock: m.clock + 1, lastUpdated: a.clock.Now()}
		}
		removed = append(removed, id)
	}
	a.mu.Unlock()

	if len(removed) > 0 {
		c := Change{Removed: removed}
		a.emit(c, c, origin)
	}
}

// CheckOutdated renews the local state when half the timeout has passed
// and drops remote states older than Timeout.
func (a *Awareness) CheckOutdated() {
	now := a.clock.Now()

	a.mu.Lock()
	local, online := a.states[a.client]
	renew := online && now.Sub(a.meta[a.client].lastUpdated) >= Timeout/2
	var removed []replica.ClientID
	for id, m := range a.meta {
		if id == a.client {
			continue
		}
		if _, ok := a.states[id]; ok && now.Sub(m.lastUpdated) >= Timeout {
			delete(a.states, id)
			removed = append(removed, id)
		}
	}
	a.mu.Unlock()

	if renew {
		a.SetLocalState(local)
	}
	if len(removed) > 0 {
		slices.Sort(removed)
		a.logger.Debug("presence expired", zap.Int("clients", len(removed)))
		c := Change{Removed: removed}
		a.emit(c, c, OriginTimeout)
	}
}

func (a *Awareness) emit(update, change Change, origin any) {
	if !change.empty() {
		a.changes.Notify("change", func(fn Func) error {
			fn(change, origin)
			return nil
		})
	}
	if !update.empty() {
		a.updates.Notify("update", func(fn Func) error {
			fn(update, origin)
			return nil
		})
	}
}

// equal compares two states by their JSON form.
func equal(a, b State) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	patch, err := jsondiff.Compare(a, b)
	return err == nil && len(patch) == 0
}
