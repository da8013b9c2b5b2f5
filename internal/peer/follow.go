package peer

import (
	"sync"

	"gihan9a/roomsync/internal/awareness"
	"gihan9a/roomsync/internal/replica"
)

// NameOf extracts the display name a client publishes under
// state["user"]["name"].
func NameOf(state awareness.State) (string, bool) {
	user, ok := state["user"].(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := user["name"].(string)
	return name, ok && name != ""
}

// Follow keeps m in step with the remote clients in aw. A client becomes a
// peer once its state carries a name and stops being one when its state
// goes away. The local client is never a peer.
func Follow(aw *awareness.Awareness, m *Manager) (stop func()) {
	f := &follower{aw: aw, m: m, names: make(map[replica.ClientID]string)}
	unsubscribe := aw.OnChange(f.onChange)
	f.sync(aw.RemoteClients(), nil, nil)
	return unsubscribe
}

type follower struct {
	aw *awareness.Awareness
	m  *Manager

	mu    sync.Mutex
	names map[replica.ClientID]string
}

func (f *follower) onChange(change awareness.Change, origin any) {
	f.sync(change.Added, change.Updated, change.Removed)
}

func (f *follower) sync(added, updated, removed []replica.ClientID) {
	states := f.aw.GetStates()
	self := f.aw.ClientID()

	var joined, left []Peer
	f.mu.Lock()
	for _, id := range append(append([]replica.ClientID(nil), added...), updated...) {
		if id == self {
			continue
		}
		name, ok := NameOf(states[id])
		known, had := f.names[id]
		switch {
		case ok && !had:
			f.names[id] = name
			joined = append(joined, Peer{Name: name})
		case ok && had && known != name:
			f.names[id] = name
			left = append(left, Peer{Name: known})
			joined = append(joined, Peer{Name: name})
		}
	}
	for _, id := range removed {
		if name, had := f.names[id]; had {
			delete(f.names, id)
			left = append(left, Peer{Name: name})
		}
	}
	f.mu.Unlock()

	for _, p := range left {
		f.m.PeerLeft(p)
	}
	for _, p := range joined {
		f.m.PeerJoined(p)
	}
}
