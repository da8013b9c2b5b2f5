// Package share maps a workspace onto the replicated document: one binder
// per shared file, with file creation and removal carried as document
// operations.
package share

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/binding"
	"gihan9a/roomsync/internal/replica"
	"gihan9a/roomsync/internal/textedit"
)

// Host is the editor surface a workspace lives in
type Host interface {
	binding.Host
	Create(ctx context.Context, key, text string) error
	Remove(ctx context.Context, key string) error
	Exists(key string) bool
	Files(ctx context.Context) ([]string, error)
	// Sync returns the local edits made to key since the last call.
	Sync(ctx context.Context, key string) ([]textedit.LocalChange, error)
}

// Manager keeps the binders of one session
type Manager struct {
	doc     *replica.Doc
	host    Host
	isOwner bool
	opts    binding.Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	binders     map[string]*binding.Binder
	unsubscribe func()
}

// NewManager starts following remote file changes in doc. Guests skip
// remote files that already exist in their workspace.
func NewManager(doc *replica.Doc, host Host, isOwner bool, opts binding.Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		doc:     doc,
		host:    host,
		isOwner: isOwner,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		binders: make(map[string]*binding.Binder),
	}
	m.unsubscribe = doc.OnChange(m.onDocChange)
	return m
}

// docChannel sends one file's local activity into the document
type docChannel struct {
	doc  *replica.Doc
	path string
}

func (c docChannel) SendChangeToRemote(change textedit.LocalChange) error {
	return c.doc.Edit(c.path, change.RangeOffset, change.RangeOffset+change.RangeLength, change.Text)
}

func (c docChannel) SaveToRemote() error {
	return c.doc.RequestSave(c.path)
}

// bindLocked registers a binder for path. Caller holds m.mu.
func (m *Manager) bindLocked(path string) *binding.Binder {
	if b, ok := m.binders[path]; ok {
		return b
	}
	b := binding.New(path, m.host, docChannel{doc: m.doc, path: path}, m.opts)
	m.binders[path] = b
	m.logger.Debug("bound file", zap.String("file", path))
	return b
}

// Binder returns the binder of a shared file
func (m *Manager) Binder(path string) (*binding.Binder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.binders[path]
	return b, ok
}

// Shared returns the shared files, sorted
func (m *Manager) Shared() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.binders))
	for path := range m.binders {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// ShareFile adds a local file to the document and binds it
func (m *Manager) ShareFile(ctx context.Context, path string) error {
	m.mu.Lock()
	if _, ok := m.binders[path]; ok {
		m.mu.Unlock()
		return nil
	}
	m.bindLocked(path)
	m.mu.Unlock()

	text, err := m.host.Text(ctx, path)
	if err != nil {
		m.forget(path)
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := m.doc.CreateFile(path, text); err != nil {
		m.forget(path)
		if errors.Is(err, replica.ErrFileExists) {
			// A peer shared a file with the same name; the local copy stays unbound.
			m.logger.Info("file already shared by a peer", zap.String("file", path))
			return nil
		}
		return fmt.Errorf("share %s: %w", path, err)
	}
	m.logger.Info("shared file", zap.String("file", path))
	return nil
}

// ShareWorkspace shares every file of the workspace
func (m *Manager) ShareWorkspace(ctx context.Context) error {
	files, err := m.host.Files(ctx)
	if err != nil {
		return fmt.Errorf("list workspace: %w", err)
	}
	for _, path := range files {
		if err := m.ShareFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// UnshareFile removes a file from the document. The local copy stays.
func (m *Manager) UnshareFile(path string) error {
	if !m.forget(path) {
		return nil
	}
	if err := m.doc.RemoveFile(path); err != nil && !errors.Is(err, replica.ErrNoSuchFile) {
		return fmt.Errorf("unshare %s: %w", path, err)
	}
	m.logger.Info("unshared file", zap.String("file", path))
	return nil
}

func (m *Manager) forget(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.binders[path]
	delete(m.binders, path)
	return ok
}

// OnLocalFileChanged forwards edits of a shared file, or shares a file
// that was just created locally
func (m *Manager) OnLocalFileChanged(ctx context.Context, path string) error {
	b, ok := m.Binder(path)
	if !ok {
		return m.ShareFile(ctx, path)
	}
	return b.SyncLocal(ctx, func(ctx context.Context) ([]textedit.LocalChange, error) {
		changes, err := m.host.Sync(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("sync %s: %w", path, err)
		}
		return changes, nil
	})
}

// OnLocalFileRemoved unshares a shared file that was deleted locally
func (m *Manager) OnLocalFileRemoved(path string) error {
	return m.UnshareFile(path)
}

// Close stops following the document and aborts pending remote applies
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Manager) onDocChange(c replica.Change) {
	if c.Local {
		return
	}
	if err := m.applyRemote(c); err != nil {
		m.logger.Error("remote change not applied",
			zap.Stringer("kind", c.Kind),
			zap.String("file", c.Path),
			zap.Error(err))
	}
}

func (m *Manager) applyRemote(c replica.Change) error {
	ctx := m.ctx
	switch c.Kind {
	case replica.FileCreated:
		m.mu.Lock()
		if _, ok := m.binders[c.Path]; ok {
			m.mu.Unlock()
			return nil
		}
		if !m.isOwner && m.host.Exists(c.Path) {
			m.mu.Unlock()
			m.logger.Info("skipping remote file that exists locally", zap.String("file", c.Path))
			return nil
		}
		// Registered before the file appears so the watcher sees a bound file.
		b := m.bindLocked(c.Path)
		m.mu.Unlock()

		if err := m.host.Create(ctx, c.Path, ""); err != nil {
			m.forget(c.Path)
			return err
		}
		return b.OnRemoteInitText(ctx, c.NewText)

	case replica.TextChanged:
		b, ok := m.Binder(c.Path)
		if !ok {
			return nil
		}
		return b.OnRemoteTextChanges(ctx, textedit.Diff(c.OldText, c.NewText))

	case replica.FileRemoved:
		if !m.forget(c.Path) {
			return nil
		}
		return m.host.Remove(ctx, c.Path)

	case replica.SaveRequested:
		b, ok := m.Binder(c.Path)
		if !ok {
			return nil
		}
		return b.OnSave(ctx)
	}
	return nil
}
