package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the updates a document emits.
func recorder(t *testing.T, d *Doc) *[][]byte {
	t.Helper()
	var updates [][]byte
	unsubscribe := d.OnUpdate(func(update []byte, origin any) {
		updates = append(updates, update)
	})
	t.Cleanup(unsubscribe)
	return &updates
}

func TestLocalEdits(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.CreateFile("a.txt", "hello"))
	require.NoError(t, d.Edit("a.txt", 5, 5, " world"))
	require.NoError(t, d.Edit("a.txt", 0, 1, "H"))

	text, ok := d.Text("a.txt")
	require.True(t, ok)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, []string{"a.txt"}, d.Files())
}

func TestEditCountsRunes(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.CreateFile("u.txt", "héllo"))
	require.NoError(t, d.Edit("u.txt", 1, 2, "e"))

	text, _ := d.Text("u.txt")
	assert.Equal(t, "hello", text)
}

func TestLocalErrors(t *testing.T) {
	d := New(1, nil)
	assert.ErrorIs(t, d.Edit("missing", 0, 0, "x"), ErrNoSuchFile)
	assert.ErrorIs(t, d.RemoveFile("missing"), ErrNoSuchFile)
	assert.ErrorIs(t, d.RequestSave("missing"), ErrNoSuchFile)

	require.NoError(t, d.CreateFile("a", "abc"))
	assert.ErrorIs(t, d.CreateFile("a", ""), ErrFileExists)
	assert.ErrorIs(t, d.Edit("a", 2, 1, ""), ErrInvalidRange)
	assert.ErrorIs(t, d.Edit("a", 4, 4, ""), ErrInvalidRange)

	// An end past the text is clamped.
	require.NoError(t, d.Edit("a", 1, 99, "Z"))
	text, _ := d.Text("a")
	assert.Equal(t, "aZ", text)
}

func TestSyncThroughStateVector(t *testing.T) {
	a := New(1, nil)
	b := New(2, nil)
	require.NoError(t, a.CreateFile("a.txt", "one"))
	require.NoError(t, a.Edit("a.txt", 3, 3, " two"))

	update, err := a.EncodeStateAsUpdate(b.EncodeStateVector())
	require.NoError(t, err)
	require.NoError(t, b.ApplyUpdate(update, "remote"))

	text, _ := b.Text("a.txt")
	assert.Equal(t, "one two", text)

	// Nothing left to send once the vectors match.
	update, err = a.EncodeStateAsUpdate(b.EncodeStateVector())
	require.NoError(t, err)
	updates := recorder(t, a)
	require.NoError(t, a.ApplyUpdate(update, "remote"))
	assert.Empty(t, *updates)
}

func TestConcurrentEditsConverge(t *testing.T) {
	a := New(1, nil)
	b := New(2, nil)
	require.NoError(t, a.CreateFile("f", "base"))
	full, err := a.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	require.NoError(t, b.ApplyUpdate(full, "a"))

	fromA := recorder(t, a)
	fromB := recorder(t, b)
	require.NoError(t, a.Edit("f", 0, 0, "A"))
	require.NoError(t, b.Edit("f", 4, 4, "B"))
	require.NoError(t, b.Edit("f", 0, 1, ""))

	for _, u := range *fromA {
		require.NoError(t, b.ApplyUpdate(u, "a"))
	}
	for _, u := range *fromB {
		require.NoError(t, a.ApplyUpdate(u, "b"))
	}

	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestDeliveryOrderDoesNotMatter(t *testing.T) {
	a := New(1, nil)
	b := New(2, nil)
	updatesA := recorder(t, a)
	updatesB := recorder(t, b)

	require.NoError(t, a.CreateFile("x", "12345"))
	require.NoError(t, a.Edit("x", 0, 2, "ab"))
	require.NoError(t, b.CreateFile("y", "yy"))
	require.NoError(t, b.CreateFile("x", "other"))
	require.NoError(t, b.Edit("x", 0, 0, ">"))

	all := append(append([][]byte{}, *updatesA...), *updatesB...)

	forward := New(3, nil)
	for _, u := range all {
		require.NoError(t, forward.ApplyUpdate(u, "net"))
	}
	backward := New(4, nil)
	for i := len(all) - 1; i >= 0; i-- {
		require.NoError(t, backward.ApplyUpdate(all[i], "net"))
	}
	twice := New(5, nil)
	for _, u := range append(all, all...) {
		require.NoError(t, twice.ApplyUpdate(u, "net"))
	}

	assert.Equal(t, forward.Snapshot(), backward.Snapshot())
	assert.Equal(t, forward.Snapshot(), twice.Snapshot())
	assert.Len(t, forward.Files(), 2)
}

func TestGapIsBufferedUntilFilled(t *testing.T) {
	a := New(1, nil)
	updates := recorder(t, a)
	require.NoError(t, a.CreateFile("f", ""))
	require.NoError(t, a.Edit("f", 0, 0, "hi"))

	b := New(2, nil)
	require.NoError(t, b.ApplyUpdate((*updates)[1], "a"))
	_, ok := b.Text("f")
	assert.False(t, ok)

	require.NoError(t, b.ApplyUpdate((*updates)[0], "a"))
	text, ok := b.Text("f")
	require.True(t, ok)
	assert.Equal(t, "hi", text)
}

func TestChangeEvents(t *testing.T) {
	a := New(1, nil)
	b := New(2, nil)
	updates := recorder(t, a)

	var local []Change
	a.OnChange(func(c Change) { local = append(local, c) })
	var remote []Change
	b.OnChange(func(c Change) { remote = append(remote, c) })

	require.NoError(t, a.CreateFile("f", "v1"))
	require.NoError(t, a.Edit("f", 1, 2, "2"))
	require.NoError(t, a.RequestSave("f"))
	require.NoError(t, a.RemoveFile("f"))

	for _, u := range *updates {
		require.NoError(t, b.ApplyUpdate(u, "peer"))
	}

	require.Len(t, local, 4)
	for _, c := range local {
		assert.True(t, c.Local)
	}

	require.Len(t, remote, 4)
	assert.Equal(t, FileCreated, remote[0].Kind)
	assert.Equal(t, "v1", remote[0].NewText)
	assert.Equal(t, TextChanged, remote[1].Kind)
	assert.Equal(t, "v1", remote[1].OldText)
	assert.Equal(t, "v2", remote[1].NewText)
	assert.Equal(t, SaveRequested, remote[2].Kind)
	assert.Equal(t, FileRemoved, remote[3].Kind)
	assert.Equal(t, "v2", remote[3].OldText)
	for _, c := range remote {
		assert.False(t, c.Local)
		assert.Equal(t, "peer", c.Origin)
	}
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	d := New(1, nil)
	assert.Error(t, d.ApplyUpdate([]byte{0xff, 0x00}, nil))
	assert.NoError(t, d.ApplyUpdate(nil, nil))

	_, err := d.EncodeStateAsUpdate([]byte{0xff})
	assert.Error(t, err)
}

func TestUnsubscribe(t *testing.T) {
	d := New(1, nil)
	calls := 0
	unsubscribe := d.OnUpdate(func([]byte, any) { calls++ })
	require.NoError(t, d.CreateFile("f", ""))
	unsubscribe()
	require.NoError(t, d.Edit("f", 0, 0, "x"))
	assert.Equal(t, 1, calls)
}
