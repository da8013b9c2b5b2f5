package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/observable"
	"gihan9a/roomsync/internal/transport"
)

// ErrIncompleteAuth is returned when the prompter could not provide a
// room or a username.
var ErrIncompleteAuth = errors.New("session: room and username are required")

// AuthInfo identifies the user to a room
type AuthInfo struct {
	Username string
	Room     string
	Password string
}

// Prompter asks the user how to join a room
type Prompter interface {
	Prompt(ctx context.Context, needPassword bool) (AuthInfo, error)
}

// StaticPrompter answers every prompt with the same values
type StaticPrompter AuthInfo

func (p StaticPrompter) Prompt(_ context.Context, needPassword bool) (AuthInfo, error) {
	info := AuthInfo(p)
	if info.Room == "" || info.Username == "" {
		return AuthInfo{}, ErrIncompleteAuth
	}
	if !needPassword {
		info.Password = ""
	}
	return info, nil
}

// Connector opens a room and assembles the session around it
type Connector interface {
	SupportsPassword() bool
	Connect(ctx context.Context, auth AuthInfo, isOwner bool, workspace string) (*Session, error)
}

// Listener observes the session list. Either field may be nil.
type Listener struct {
	OnAddSession    func(*Session)
	OnRemoveSession func(*Session)
}

// Manager holds the active sessions
type Manager struct {
	connector Connector
	prompter  Prompter
	logger    *zap.Logger
	listeners *observable.Registry[Listener]

	mu       sync.Mutex
	sessions []*Session
}

func NewManager(connector Connector, prompter Prompter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		connector: connector,
		prompter:  prompter,
		logger:    logger,
		listeners: observable.New[Listener](logger),
	}
}

func (m *Manager) AddListener(l Listener) (remove func()) { return m.listeners.Register(l) }

// CreateSession asks for the room details, connects and registers the
// new session
func (m *Manager) CreateSession(ctx context.Context, isOwner bool, workspace string) (*Session, error) {
	auth, err := m.prompter.Prompt(ctx, m.connector.SupportsPassword())
	if err != nil {
		return nil, err
	}

	s, err := m.connector.Connect(ctx, auth, isOwner, workspace)
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", auth.Room, err)
	}

	// A room that revokes access later ends the session.
	s.Provider().AddListener(transport.Listener{
		OnPermissionDenied: func(reason string) {
			m.logger.Warn("room denied access", zap.String("room", s.Room()), zap.String("reason", reason))
			go m.RemoveSession(s)
		},
	})

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()

	m.logger.Info("session started",
		zap.String("room", s.Room()),
		zap.String("user", s.Username()),
		zap.Bool("owner", isOwner))
	m.listeners.Notify("add-session", func(l Listener) error {
		if l.OnAddSession != nil {
			l.OnAddSession(s)
		}
		return nil
	})
	return s, nil
}

// RemoveSession closes s and drops it from the list
func (m *Manager) RemoveSession(s *Session) {
	m.mu.Lock()
	i := slices.Index(m.sessions, s)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	m.sessions = slices.Delete(m.sessions, i, i+1)
	m.mu.Unlock()

	s.Close()
	m.logger.Info("session ended", zap.String("room", s.Room()))
	m.listeners.Notify("remove-session", func(l Listener) error {
		if l.OnRemoveSession != nil {
			l.OnRemoveSession(s)
		}
		return nil
	})
}

// Sessions returns the active sessions
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sessions)
}

// Close ends every session
func (m *Manager) Close() {
	for _, s := range m.Sessions() {
		m.RemoveSession(s)
	}
}
