// Package app is the entry point a front end drives: start a session as
// owner of a workspace, or join one as a guest.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/session"
)

var (
	// ErrNoWorkspace is returned by StartSession without a workspace.
	ErrNoWorkspace = errors.New("open workspace before starting session")
	// ErrJoinPrecondition wraps every reason a join is refused before
	// connecting.
	ErrJoinPrecondition = errors.New("cannot join session")
)

// Facade starts and joins sessions
type Facade struct {
	sessions  *session.Manager
	workspace string
	logger    *zap.Logger
}

func NewFacade(sessions *session.Manager, workspace string, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{sessions: sessions, workspace: workspace, logger: logger}
}

// StartSession creates a room as its owner and shares the whole workspace
func (f *Facade) StartSession(ctx context.Context) (*session.Session, error) {
	if f.workspace == "" {
		return nil, ErrNoWorkspace
	}
	s, err := f.sessions.CreateSession(ctx, true, f.workspace)
	if err != nil {
		return nil, err
	}
	if err := s.ShareManager().ShareWorkspace(ctx); err != nil {
		f.sessions.RemoveSession(s)
		return nil, fmt.Errorf("share workspace: %w", err)
	}
	f.logger.Info("workspace shared", zap.String("workspace", f.workspace), zap.Strings("files", s.ShareManager().Shared()))
	return s, nil
}

// JoinSession joins a room as a guest. Guests need exactly one empty
// folder, so no existing file can collide with a shared one.
func (f *Facade) JoinSession(ctx context.Context, folders []string) (*session.Session, error) {
	if err := CheckJoinFolders(folders); err != nil {
		return nil, err
	}
	return f.sessions.CreateSession(ctx, false, folders[0])
}

// CheckJoinFolders verifies the join preconditions
func CheckJoinFolders(folders []string) error {
	if len(folders) == 0 {
		return fmt.Errorf("%w: to join a session please open one unique empty folder", ErrJoinPrecondition)
	}
	if len(folders) > 1 {
		names := make([]string, len(folders))
		for i, folder := range folders {
			names[i] = filepath.Base(folder)
		}
		return fmt.Errorf("%w: to join a session only one empty folder is allowed, found %s",
			ErrJoinPrecondition, strings.Join(names, ","))
	}

	entries, err := os.ReadDir(folders[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJoinPrecondition, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: to join a session only one empty folder is allowed, found %d files",
			ErrJoinPrecondition, len(entries))
	}
	return nil
}
