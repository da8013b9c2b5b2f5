// Package peer keeps the list of remote participants in a room.
package peer

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/observable"
)

// Peer is a remote participant. Peers compare by name.
type Peer struct {
	Name string
}

// Listener observes the peer list. Either field may be nil.
type Listener struct {
	OnPeerAdded   func(Peer)
	OnPeerRemoved func(Peer)
}

// Manager is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	peers     []Peer
	listeners *observable.Registry[Listener]
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		listeners: observable.New[Listener](logger),
		logger:    logger,
	}
}

// AddListener registers l. Listeners run in registration order.
func (m *Manager) AddListener(l Listener) (remove func()) {
	return m.listeners.Register(l)
}

func (m *Manager) PeerJoined(p Peer) {
	m.mu.Lock()
	m.peers = append(m.peers, p)
	m.mu.Unlock()

	m.logger.Info("peer joined", zap.String("peer", p.Name))
	m.listeners.Notify("peer-added", func(l Listener) error {
		if l.OnPeerAdded != nil {
			l.OnPeerAdded(p)
		}
		return nil
	})
}

// PeerLeft removes the first peer named like p. Two peers sharing a name
// cannot be told apart.
func (m *Manager) PeerLeft(p Peer) {
	m.mu.Lock()
	i := slices.Index(m.peers, p)
	if i >= 0 {
		m.peers = slices.Delete(m.peers, i, i+1)
	}
	m.mu.Unlock()

	m.logger.Info("peer left", zap.String("peer", p.Name))
	m.listeners.Notify("peer-removed", func(l Listener) error {
		if l.OnPeerRemoved != nil {
			l.OnPeerRemoved(p)
		}
		return nil
	})
}

// Peers returns a copy of the current list.
func (m *Manager) Peers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.peers)
}
