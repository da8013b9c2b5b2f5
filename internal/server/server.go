// Package server is the room relay. Each room holds the authoritative
// replica and presence directory; members connect over websockets or
// in-process pipes and the relay fans updates out between them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gihan9a/roomsync/internal/config"
	"gihan9a/roomsync/internal/utils"
	"gihan9a/roomsync/pkg/syncproto"
)

// RelayServer serves rooms
type RelayServer struct {
	config   *config.Config
	logger   *zap.Logger
	nodeID   string
	rooms    map[string]*Room
	mu       sync.Mutex
	upgrader websocket.Upgrader

	cluster     ClusterBus
	stopCluster func() error
}

// NewRelayServer creates a relay. A non-nil cluster bus links it with
// other relays serving the same rooms.
func NewRelayServer(cfg *config.Config, logger *zap.Logger, cluster ClusterBus) (*RelayServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = utils.GenerateRandomID()
	}

	s := &RelayServer{
		config:  cfg,
		logger:  logger.With(zap.String("node", nodeID)),
		nodeID:  nodeID,
		rooms:   make(map[string]*Room),
		cluster: cluster,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	// Start listening to the other relays
	if cluster != nil {
		stop, err := cluster.Subscribe(context.Background(), s.onClusterMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to cluster bus: %w", err)
		}
		s.stopCluster = stop
	}

	return s, nil
}

// Close closes every member connection and leaves the cluster
func (s *RelayServer) Close() {
	if s.stopCluster != nil {
		if err := s.stopCluster(); err != nil {
			s.logger.Warn("leaving cluster", zap.Error(err))
		}
	}

	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	for _, room := range rooms {
		room.closeMembers()
	}
}

// SetupRoutes configures the HTTP routes for the server
func (s *RelayServer) SetupRoutes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}", s.handleSnapshot).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/{room}", s.handleWebSocket)
	return router
}

// Room returns the live room with the given name
func (s *RelayServer) Room(name string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	return room, ok
}

// joinRoom adds m to the named room, creating the room on first use
func (s *RelayServer) joinRoom(name string, m *member) *Room {
	s.mu.Lock()
	room, ok := s.rooms[name]
	if !ok {
		room = newRoom(name, s)
		s.rooms[name] = room
	}
	room.addMember(m)
	s.mu.Unlock()

	if !ok {
		s.logger.Info("room opened", zap.String("room", name))
		// Ask the other relays for what they already hold.
		room.publish(roomStep1(room))
		room.publish(syncproto.AwarenessQueryFrame())
	}
	return room
}

// leaveRoom removes m and drops the room once nobody is left
func (s *RelayServer) leaveRoom(room *Room, m *member) {
	s.mu.Lock()
	controlled, empty := room.removeMember(m)
	if empty {
		delete(s.rooms, room.name)
	}
	s.mu.Unlock()

	room.awareness.RemoveStates(controlled, nil)

	if empty {
		room.close()
		s.logger.Info("room closed", zap.String("room", room.name))
	}
}

// roomFromPath converts a request path to a room name
func roomFromPath(path string) string {
	// Remove query and leading /
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")

	// Keep only the last segment
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return path
}
