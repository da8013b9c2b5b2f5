package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gihan9a/roomsync/internal/textedit"
)

func newHost(t *testing.T) (*FileHost, string) {
	t.Helper()
	root := t.TempDir()
	return NewFileHost(root, nil), root
}

func TestKeyMapping(t *testing.T) {
	h, root := newHost(t)

	key, err := h.KeyFromPath(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", key)
	assert.Equal(t, filepath.Join(root, "src", "main.go"), h.PathFromKey("/src/main.go"))

	_, err = h.KeyFromPath(filepath.Join(root, "..", "other"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestApplyEditsWritesThrough(t *testing.T) {
	ctx := context.Background()
	h, root := newHost(t)
	require.NoError(t, h.Create(ctx, "a.txt", "hello"))

	ok, err := h.ApplyEdits(ctx, "a.txt", []textedit.TextChange{
		textedit.NewTextChange(textedit.Position{Character: 5}, textedit.Position{Character: 5}, " world"),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	text, err := h.Text(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestApplyEditsBusy(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)
	require.NoError(t, h.Create(ctx, "a.txt", "x"))

	release, err := h.Hold("a.txt")
	require.NoError(t, err)
	ok, err := h.ApplyEdits(ctx, "a.txt", textedit.Diff("x", "y"))
	require.NoError(t, err)
	assert.False(t, ok)
	release()

	ok, err = h.ApplyEdits(ctx, "a.txt", textedit.Diff("x", "y"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyEditsRefusedWhileDiskAhead(t *testing.T) {
	ctx := context.Background()
	h, root := newHost(t)
	require.NoError(t, h.Create(ctx, "a.txt", "abc"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abcd"), 0644))

	ok, err := h.ApplyEdits(ctx, "a.txt", textedit.Diff("abc", "Xabc"))
	require.NoError(t, err)
	assert.False(t, ok)

	changes, err := h.Sync(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 3, changes[0].RangeOffset)
	assert.Equal(t, "d", changes[0].Text)

	ok, err = h.ApplyEdits(ctx, "a.txt", textedit.Diff("abc", "Xabc"))
	require.NoError(t, err)
	assert.True(t, ok)
	text, _ := h.Text(ctx, "a.txt")
	assert.Equal(t, "Xabcd", text)
}

func TestSyncAfterOwnWriteIsQuiet(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)
	require.NoError(t, h.Create(ctx, "a.txt", "one"))
	_, err := h.ApplyEdits(ctx, "a.txt", textedit.Diff("one", "two"))
	require.NoError(t, err)

	changes, err := h.Sync(ctx, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestSaveAndRemove(t *testing.T) {
	ctx := context.Background()
	h, root := newHost(t)

	ok, err := h.ApplyEdits(ctx, "dir/new.txt", textedit.Diff("", "content"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.Save(ctx, "dir/new.txt"))
	assert.Equal(t, 1, h.Saves("dir/new.txt"))
	assert.True(t, h.Exists("dir/new.txt"))

	require.NoError(t, h.Remove(ctx, "dir/new.txt"))
	assert.False(t, h.Exists("dir/new.txt"))
	_, err = os.Stat(filepath.Join(root, "dir", "new.txt"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, h.Remove(ctx, "dir/new.txt"))
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	h, root := newHost(t)
	require.NoError(t, h.Create(ctx, "b.txt", ""))
	require.NoError(t, h.Create(ctx, "a/c.txt", ""))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), nil, 0644))

	files, err := h.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/c.txt", "b.txt"}, files)
}
