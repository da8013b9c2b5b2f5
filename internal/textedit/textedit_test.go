package textedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetAndPosition(t *testing.T) {
	text := "ab\ncdé\n\nf"
	cases := []struct {
		pos    Position
		offset int
	}{
		{Position{0, 0}, 0},
		{Position{0, 2}, 2},
		{Position{1, 0}, 3},
		{Position{1, 3}, 6},
		{Position{2, 0}, 7},
		{Position{3, 1}, 9},
	}
	for _, c := range cases {
		assert.Equal(t, c.offset, OffsetAt(text, c.pos), "offset of %+v", c.pos)
		assert.Equal(t, c.pos, PositionAt(text, c.offset), "position of %d", c.offset)
	}

	// Clamping past the end of a line and of the text.
	assert.Equal(t, 2, OffsetAt(text, Position{0, 40}))
	assert.Equal(t, 9, OffsetAt(text, Position{9, 0}))
	assert.Equal(t, Position{3, 1}, EndPosition(text))
}

func TestNewTextChangeType(t *testing.T) {
	p0, p1 := Position{0, 0}, Position{0, 1}
	assert.Equal(t, Insert, NewTextChange(p0, p0, "x").Type)
	assert.Equal(t, Delete, NewTextChange(p0, p1, "").Type)
	assert.Equal(t, Update, NewTextChange(p0, p1, "y").Type)
}

func TestDiff(t *testing.T) {
	assert.Nil(t, Diff("same", "same"))

	changes := Diff("hello world", "hello brave world")
	require.Len(t, changes, 1)
	assert.Equal(t, Insert, changes[0].Type)
	assert.Equal(t, Position{0, 6}, changes[0].Start)
	assert.Equal(t, "brave ", changes[0].Text)

	changes = Diff("line1\nline2\n", "line1\n")
	require.Len(t, changes, 1)
	assert.Equal(t, Delete, changes[0].Type)
	assert.Equal(t, Position{1, 0}, changes[0].Start)
	assert.Equal(t, Position{2, 0}, changes[0].End)
}

func TestDiffApplyRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"", "content"},
		{"content", ""},
		{"abc\ndef", "abX\nYdef"},
		{"héllo", "hallo"},
	}
	for _, p := range pairs {
		got, err := Apply(p[0], Diff(p[0], p[1]))
		require.NoError(t, err)
		assert.Equal(t, p[1], got)
	}
}

func TestDiffLocal(t *testing.T) {
	changes := DiffLocal("ab\ncd", "ab\ncXd")
	require.Len(t, changes, 1)
	assert.Equal(t, 4, changes[0].RangeOffset)
	assert.Equal(t, 0, changes[0].RangeLength)
	assert.Equal(t, Position{1, 1}, changes[0].Start)
	assert.Equal(t, "X", changes[0].Text)
}

func TestApplyBatchRefersToOriginalText(t *testing.T) {
	changes := []TextChange{
		NewTextChange(Position{0, 0}, Position{0, 0}, ">"),
		NewTextChange(Position{0, 5}, Position{0, 5}, "<"),
		NewTextChange(Position{0, 2}, Position{0, 3}, "_"),
	}
	got, err := Apply("hello", changes)
	require.NoError(t, err)
	assert.Equal(t, ">he_lo<", got)
}

func TestApplyRejectsOverlap(t *testing.T) {
	_, err := Apply("hello", []TextChange{
		NewTextChange(Position{0, 0}, Position{0, 3}, ""),
		NewTextChange(Position{0, 2}, Position{0, 4}, ""),
	})
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestTransformConverges(t *testing.T) {
	cases := []struct {
		name string
		base string
		a, b []Edit
		want string
	}{
		{"apart", "hello world", []Edit{{Offset: 0, Text: "X"}}, []Edit{{Offset: 11, Text: "!!"}}, "Xhello world!!"},
		{"same insert point", "ab", []Edit{{Offset: 1, Text: "1"}}, []Edit{{Offset: 1, Text: "2"}}, "a12b"},
		{"insert inside delete", "abcdef", []Edit{{Offset: 1, Length: 3}}, []Edit{{Offset: 2, Text: "X"}}, "aef"},
		{"insert at delete start", "abcdef", []Edit{{Offset: 1, Length: 3}}, []Edit{{Offset: 1, Text: "X"}}, "aXef"},
		{"insert at delete end", "abcdef", []Edit{{Offset: 1, Length: 3}}, []Edit{{Offset: 4, Text: "X"}}, "aXef"},
		{"overlapping deletes", "abcdef", []Edit{{Offset: 1, Length: 3}}, []Edit{{Offset: 2, Length: 3}}, "af"},
		{"overlapping replaces", "abcdef", []Edit{{Offset: 1, Length: 3, Text: "P"}}, []Edit{{Offset: 2, Length: 3, Text: "Q"}}, "aPQf"},
		{"multibyte", "héllo", []Edit{{Offset: 1, Length: 1, Text: "e"}}, []Edit{{Offset: 5, Text: "ü"}}, "helloü"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			aFirst := ApplyEdits(ApplyEdits(c.base, c.a), Transform(c.b, c.a, true))
			bFirst := ApplyEdits(ApplyEdits(c.base, c.b), Transform(c.a, c.b, false))
			assert.Equal(t, c.want, aFirst)
			assert.Equal(t, c.want, bFirst)
		})
	}
}

func TestEditsRoundTripThroughPositions(t *testing.T) {
	text := "one\ntwo\nthree"
	changes := []TextChange{NewTextChange(Position{Line: 1, Character: 1}, Position{Line: 2, Character: 2}, "X")}
	edits := EditsFromChanges(text, changes)
	require.Equal(t, []Edit{{Offset: 5, Length: 5, Text: "X"}}, edits)
	assert.Equal(t, changes, ChangesFromEdits(text, edits))

	applied, err := Apply(text, changes)
	require.NoError(t, err)
	assert.Equal(t, applied, ApplyEdits(text, edits))
}
