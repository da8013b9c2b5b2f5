// Package editor is a file-backed stand-in for a host editor. Each file
// has an in-memory buffer that is written through to disk; the disk copy
// is what the user edits, and Sync turns those edits into change records.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/textedit"
)

// ErrOutsideRoot is returned for paths that escape the workspace.
var ErrOutsideRoot = errors.New("editor: path outside workspace")

type buffer struct {
	mu    sync.Mutex
	text  string
	saves int
}

// FileHost serves the files under one workspace folder
type FileHost struct {
	root   string
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
}

func NewFileHost(root string, logger *zap.Logger) *FileHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHost{
		root:    root,
		logger:  logger.With(zap.String("workspace", root)),
		buffers: make(map[string]*buffer),
	}
}

// Root returns the workspace folder
func (h *FileHost) Root() string { return h.root }

// KeyFromPath converts a file path to a workspace key
func (h *FileHost) KeyFromPath(path string) (string, error) {
	// Make the path relative to the root directory
	relPath, err := filepath.Rel(h.root, path)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	// Convert Windows path separators to key separators
	return filepath.ToSlash(relPath), nil
}

// PathFromKey converts a workspace key to a file path
func (h *FileHost) PathFromKey(key string) string {
	return filepath.Join(h.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

// buffer returns the buffer for key, loading it from disk on first use.
// Missing files load as empty.
func (h *FileHost) buffer(key string) (*buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.buffers[key]; ok {
		return b, nil
	}
	data, err := os.ReadFile(h.PathFromKey(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	b := &buffer{text: string(data)}
	h.buffers[key] = b
	return b, nil
}

func (h *FileHost) write(key, text string) error {
	path := h.PathFromKey(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, []byte(text), 0644)
}

// ApplyEdits applies the batch to the buffer and writes it to disk. It
// reports false without applying anything when the buffer is held by
// another writer or when the disk copy has edits Sync has not seen yet.
func (h *FileHost) ApplyEdits(ctx context.Context, key string, changes []textedit.TextChange) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b, err := h.buffer(key)
	if err != nil {
		return false, err
	}
	if !b.mu.TryLock() {
		return false, nil
	}
	defer b.mu.Unlock()

	if onDisk, err := os.ReadFile(h.PathFromKey(key)); err == nil && string(onDisk) != b.text {
		h.logger.Debug("buffer behind disk, refusing remote edit", zap.String("file", key))
		return false, nil
	}

	text, err := textedit.Apply(b.text, changes)
	if err != nil {
		return false, err
	}
	if err := h.write(key, text); err != nil {
		return false, err
	}
	b.text = text
	return true, nil
}

// Save writes the buffer to disk
func (h *FileHost) Save(ctx context.Context, key string) error {
	b, err := h.buffer(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := h.write(key, b.text); err != nil {
		return err
	}
	b.saves++
	h.logger.Debug("saved", zap.String("file", key))
	return nil
}

// Saves reports how many times key was saved
func (h *FileHost) Saves(key string) int {
	b, err := h.buffer(key)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func (h *FileHost) Text(ctx context.Context, key string) (string, error) {
	b, err := h.buffer(key)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, nil
}

// Create writes a new file with text, replacing any buffer for it
func (h *FileHost) Create(ctx context.Context, key, text string) error {
	b, err := h.buffer(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := h.write(key, text); err != nil {
		return err
	}
	b.text = text
	return nil
}

// Remove deletes the file and drops its buffer
func (h *FileHost) Remove(ctx context.Context, key string) error {
	h.mu.Lock()
	delete(h.buffers, key)
	h.mu.Unlock()

	if err := os.Remove(h.PathFromKey(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists checks if the file is on disk
func (h *FileHost) Exists(key string) bool {
	info, err := os.Stat(h.PathFromKey(key))
	return err == nil && !info.IsDir()
}

// Files lists the workspace files as sorted keys. Hidden entries are
// skipped.
func (h *FileHost) Files(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != h.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		key, err := h.KeyFromPath(path)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// Sync reads the disk copy of key and returns the edits that turn the
// buffer into it. The buffer takes the disk content.
func (h *FileHost) Sync(ctx context.Context, key string) ([]textedit.LocalChange, error) {
	b, err := h.buffer(key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(h.PathFromKey(key))
	if err != nil {
		return nil, err
	}
	changes := textedit.DiffLocal(b.text, string(data))
	b.text = string(data)
	return changes, nil
}

// Hold locks the buffer of key as another writer would, until release is
// called
func (h *FileHost) Hold(key string) (release func(), err error) {
	b, err := h.buffer(key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	return b.mu.Unlock, nil
}
