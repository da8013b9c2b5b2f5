package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gihan9a/roomsync/internal/awareness"
	"gihan9a/roomsync/internal/clock"
	"gihan9a/roomsync/internal/replica"
)

func TestManagerNotifiesInOrder(t *testing.T) {
	m := NewManager(nil)
	var calls []string
	m.AddListener(Listener{OnPeerAdded: func(p Peer) { calls = append(calls, "first:"+p.Name) }})
	m.AddListener(Listener{OnPeerAdded: func(p Peer) { panic("broken listener") }})
	m.AddListener(Listener{
		OnPeerAdded:   func(p Peer) { calls = append(calls, "third:"+p.Name) },
		OnPeerRemoved: func(p Peer) { calls = append(calls, "gone:"+p.Name) },
	})

	m.PeerJoined(Peer{Name: "bob"})
	m.PeerLeft(Peer{Name: "bob"})

	assert.Equal(t, []string{"first:bob", "third:bob", "gone:bob"}, calls)
}

func TestPeersIsACopy(t *testing.T) {
	m := NewManager(nil)
	m.PeerJoined(Peer{Name: "a"})
	peers := m.Peers()
	peers[0].Name = "mutated"
	assert.Equal(t, []Peer{{Name: "a"}}, m.Peers())
}

func TestPeerLeftRemovesFirstByName(t *testing.T) {
	m := NewManager(nil)
	m.PeerJoined(Peer{Name: "sam"})
	m.PeerJoined(Peer{Name: "kim"})
	m.PeerJoined(Peer{Name: "sam"})

	m.PeerLeft(Peer{Name: "sam"})
	assert.Equal(t, []Peer{{Name: "kim"}, {Name: "sam"}}, m.Peers())

	m.PeerLeft(Peer{Name: "nobody"})
	assert.Len(t, m.Peers(), 2)
}

func TestFollowTracksPresence(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	local := awareness.New(1, clk, nil)
	remote := awareness.New(2, clk, nil)
	defer local.Destroy()
	defer remote.Destroy()
	local.SetLocalStateField("user", map[string]any{"name": "alice"})

	m := NewManager(nil)
	var added, removed []string
	m.AddListener(Listener{
		OnPeerAdded:   func(p Peer) { added = append(added, p.Name) },
		OnPeerRemoved: func(p Peer) { removed = append(removed, p.Name) },
	})
	stop := Follow(local, m)
	defer stop()

	relay := func() {
		update, err := remote.EncodeUpdate([]replica.ClientID{2})
		require.NoError(t, err)
		require.NoError(t, local.ApplyUpdate(update, "remote"))
	}

	// No name yet: not a peer.
	relay()
	assert.Empty(t, m.Peers())

	remote.SetLocalStateField("user", map[string]any{"name": "bob"})
	relay()
	assert.Equal(t, []Peer{{Name: "bob"}}, m.Peers())

	remote.SetLocalStateField("user", map[string]any{"name": "robert"})
	relay()
	assert.Equal(t, []Peer{{Name: "robert"}}, m.Peers())

	local.RemoveStates([]replica.ClientID{2}, "closed")
	assert.Empty(t, m.Peers())

	assert.Equal(t, []string{"bob", "robert"}, added)
	assert.Equal(t, []string{"bob", "robert"}, removed)
}

func TestFollowSeedsExistingClients(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	local := awareness.New(1, clk, nil)
	remote := awareness.New(2, clk, nil)
	defer local.Destroy()
	defer remote.Destroy()

	remote.SetLocalStateField("user", map[string]any{"name": "carol"})
	update, err := remote.EncodeUpdate([]replica.ClientID{2})
	require.NoError(t, err)
	require.NoError(t, local.ApplyUpdate(update, nil))

	m := NewManager(nil)
	stop := Follow(local, m)
	defer stop()
	assert.Equal(t, []Peer{{Name: "carol"}}, m.Peers())
}
