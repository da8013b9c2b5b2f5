// Package session composes one room membership: the transport, the peer
// list and the shared workspace of a single user.
package session

import (
	"context"
	"sync"

	"gihan9a/roomsync/internal/peer"
	"gihan9a/roomsync/internal/share"
	"gihan9a/roomsync/internal/transport"
)

// Params are the parts a connector assembles into a Session.
type Params struct {
	Room     string
	Username string
	IsOwner  bool
	// Path is the workspace folder of the session.
	Path     string
	Peers    *peer.Manager
	Share    *share.Manager
	Provider *transport.Provider
	// OnClose runs after the provider is destroyed, last entry first.
	OnClose []func()
}

// Session owns its peer manager and share manager exclusively and shares
// the provider's lifetime
type Session struct {
	params    Params
	closeOnce sync.Once
}

func New(p Params) *Session {
	return &Session{params: p}
}

func (s *Session) Room() string { return s.params.Room }

func (s *Session) Username() string { return s.params.Username }

func (s *Session) IsOwner() bool { return s.params.IsOwner }

func (s *Session) Path() string { return s.params.Path }

func (s *Session) PeerManager() *peer.Manager { return s.params.Peers }

func (s *Session) ShareManager() *share.Manager { return s.params.Share }

func (s *Session) Provider() *transport.Provider { return s.params.Provider }

// Peers returns the remote participants currently in the room
func (s *Session) Peers() []peer.Peer {
	return s.params.Peers.Peers()
}

// ShareLocalFile shares one workspace file with the room
func (s *Session) ShareLocalFile(ctx context.Context, key string) error {
	return s.params.Share.ShareFile(ctx, key)
}

// Close leaves the room and releases everything the session holds
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.params.Provider.Destroy()
		s.params.Share.Close()
		for i := len(s.params.OnClose) - 1; i >= 0; i-- {
			s.params.OnClose[i]()
		}
	})
}
