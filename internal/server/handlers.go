package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gihan9a/roomsync/internal/transport"
	"gihan9a/roomsync/internal/utils"
)

// Snapshot is the JSON view of a room served over HTTP
type Snapshot struct {
	Room    string            `json:"room"`
	Files   map[string]string `json:"files"`
	Members int               `json:"members"`
	Peers   int               `json:"peers"`
}

func (s *RelayServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "node": s.nodeID})
}

// handleSnapshot returns the current files of a room
func (s *RelayServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers for snapshot responses if enabled
	if s.config.CORS.Enabled {
		s.addCORSHeaders(w, r)

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	name := mux.Vars(r)["room"]
	room, ok := s.Room(name)
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	data, err := json.Marshal(Snapshot{
		Room:    name,
		Files:   room.doc.Snapshot(),
		Members: room.Members(),
		Peers:   len(room.awareness.GetStates()),
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Error encoding room: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Version", utils.CalculateHash(data))
	w.Write(data)
}

// handleWebSocket upgrades the request and serves the member until the
// socket closes
func (s *RelayServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["room"]
	if !s.authorize(r) {
		s.logger.Info("rejected member", zap.String("room", name), zap.String("remote", r.RemoteAddr))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.ServeConn(r.Context(), transport.NewWebSocketConn(ws), name)
}

// authorize checks the basic auth password against the relay password
func (s *RelayServer) authorize(r *http.Request) bool {
	_, password, _ := r.BasicAuth()
	return s.checkPassword(password)
}

func (s *RelayServer) checkPassword(password string) bool {
	expected := s.config.Server.Password
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
}

func (s *RelayServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !s.config.CORS.Enabled || origin == "" {
		return true
	}
	for _, allowed := range strings.Split(s.config.CORS.AllowOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// addCORSHeaders adds CORS headers to the response
func (s *RelayServer) addCORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.config.CORS.AllowOrigins)
	w.Header().Set("Access-Control-Allow-Methods", s.config.CORS.AllowMethods)
	w.Header().Set("Access-Control-Allow-Headers", s.config.CORS.AllowHeaders)

	if s.config.CORS.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.config.CORS.MaxAge))
}

// ServeConn runs one member connection in room until the connection
// closes or ctx ends.
func (s *RelayServer) ServeConn(ctx context.Context, conn transport.Conn, name string) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	m := newMember(conn)
	room := s.joinRoom(name, m)
	defer s.leaveRoom(room, m)

	if err := conn.WriteMessage(roomStep1(room)); err != nil {
		return
	}
	if frame := room.presenceSnapshot(); frame != nil {
		if err := conn.WriteMessage(frame); err != nil {
			return
		}
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			room.logger.Debug("member connection closed", zap.String("member", m.ID), zap.Error(err))
			return
		}
		if reply := room.handleFrame(m, data); reply != nil {
			if err := conn.WriteMessage(reply); err != nil {
				return
			}
		}
	}
}
