package server

import (
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/awareness"
	"gihan9a/roomsync/internal/replica"
	"gihan9a/roomsync/internal/transport"
	"gihan9a/roomsync/internal/utils"
	"gihan9a/roomsync/pkg/syncproto"
)

// relayClient is the replica id of the relay's own document and
// presence. The relay never edits and never announces itself.
const relayClient replica.ClientID = 0

// member is one connection joined to a room
type member struct {
	ID   string
	Conn transport.Conn
	// Controlled holds the presence ids announced over this connection.
	Controlled map[replica.ClientID]struct{}
}

func newMember(conn transport.Conn) *member {
	return &member{
		ID:         utils.GenerateRandomID(),
		Conn:       conn,
		Controlled: make(map[replica.ClientID]struct{}),
	}
}

// Room is one replicated document and its presence
type Room struct {
	name      string
	server    *RelayServer
	doc       *replica.Doc
	awareness *awareness.Awareness
	logger    *zap.Logger

	mu      sync.Mutex
	members map[string]*member

	unsubscribe []func()
}

func newRoom(name string, s *RelayServer) *Room {
	logger := s.logger.With(zap.String("room", name))
	room := &Room{
		name:      name,
		server:    s,
		doc:       replica.New(relayClient, logger),
		awareness: awareness.New(relayClient, nil, logger),
		logger:    logger,
		members:   make(map[string]*member),
	}
	room.awareness.SetLocalState(nil)
	room.unsubscribe = []func(){
		room.doc.OnUpdate(room.onDocUpdate),
		room.awareness.OnUpdate(room.onAwarenessUpdate),
	}
	return room
}

// Name returns the room name
func (r *Room) Name() string { return r.name }

// Doc returns the room's replica
func (r *Room) Doc() *replica.Doc { return r.doc }

// Awareness returns the room's presence directory
func (r *Room) Awareness() *awareness.Awareness { return r.awareness }

// Members returns the number of connected members
func (r *Room) Members() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) addMember(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
	r.logger.Debug("added member", zap.String("member", m.ID))
}

// removeMember returns the presence ids the member controlled and whether
// the room is now empty
func (r *Room) removeMember(m *member) ([]replica.ClientID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, m.ID)
	controlled := make([]replica.ClientID, 0, len(m.Controlled))
	for id := range m.Controlled {
		controlled = append(controlled, id)
	}
	r.logger.Debug("removed member", zap.String("member", m.ID), zap.Int("presence", len(controlled)))
	return controlled, len(r.members) == 0
}

func (r *Room) close() {
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	r.awareness.Destroy()
}

func (r *Room) closeMembers() {
	r.mu.Lock()
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	for _, m := range members {
		m.Conn.Close()
	}
}

// notifyMembers sends frame to every member except the one given
func (r *Room) notifyMembers(frame []byte, except *member) {
	r.mu.Lock()
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		if m != except {
			members = append(members, m)
		}
	}
	r.mu.Unlock()

	for _, m := range members {
		if err := m.Conn.WriteMessage(frame); err != nil {
			r.logger.Debug("dropping member after failed write", zap.String("member", m.ID), zap.Error(err))
			m.Conn.Close()
		}
	}
}

func (r *Room) onDocUpdate(update []byte, origin any) {
	frame := syncproto.UpdateFrame(update)
	except, _ := origin.(*member)
	r.notifyMembers(frame, except)
	if _, fromCluster := origin.(clusterOrigin); !fromCluster {
		r.publish(frame)
	}
}

func (r *Room) onAwarenessUpdate(change awareness.Change, origin any) {
	if m, ok := origin.(*member); ok {
		r.mu.Lock()
		for _, id := range change.Added {
			m.Controlled[id] = struct{}{}
		}
		for _, id := range change.Removed {
			delete(m.Controlled, id)
		}
		r.mu.Unlock()
	}

	update, err := r.awareness.EncodeUpdate(change.All())
	if err != nil {
		r.logger.Error("encode presence", zap.Error(err))
		return
	}
	frame := syncproto.AwarenessFrame(update)
	r.notifyMembers(frame, nil)
	if _, fromCluster := origin.(clusterOrigin); !fromCluster {
		r.publish(frame)
	}
}

// handleFrame processes one frame from origin and returns the reply, or
// nil when there is nothing to answer
func (r *Room) handleFrame(origin any, data []byte) []byte {
	dec := syncproto.NewDecoder(data)
	kind, err := dec.ReadKind()
	if err != nil {
		r.logger.Warn("unreadable frame", zap.Error(err))
		return nil
	}

	switch kind {
	case syncproto.MessageSync:
		enc := syncproto.NewEncoder()
		enc.WriteKind(syncproto.MessageSync)
		if _, err := syncproto.ReadSyncMessage(dec, enc, r.doc, origin); err != nil {
			r.logger.Warn("sync message rejected", zap.Error(err))
			return nil
		}
		if enc.Len() > 1 {
			return enc.Bytes()
		}
	case syncproto.MessageAwareness:
		update, err := dec.ReadVarBytes()
		if err == nil {
			err = r.awareness.ApplyUpdate(update, origin)
		}
		if err != nil {
			r.logger.Warn("presence update rejected", zap.Error(err))
		}
	case syncproto.MessageAwarenessQuery:
		return r.presenceSnapshot()
	case syncproto.MessageAuth:
		// Members do not authenticate in-band.
	default:
		r.logger.Warn("unknown message kind", zap.Stringer("kind", kind))
	}
	return nil
}

// presenceSnapshot encodes every known presence state, or returns nil when
// there is none
func (r *Room) presenceSnapshot() []byte {
	states := r.awareness.GetStates()
	if len(states) == 0 {
		return nil
	}
	ids := make([]replica.ClientID, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	update, err := r.awareness.EncodeUpdate(ids)
	if err != nil {
		r.logger.Error("encode presence", zap.Error(err))
		return nil
	}
	return syncproto.AwarenessFrame(update)
}

func roomStep1(r *Room) []byte {
	return syncproto.SyncStep1Frame(r.doc)
}
