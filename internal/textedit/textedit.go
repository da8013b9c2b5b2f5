// Package textedit holds the edit records exchanged between the host
// editor and the binder, and the position arithmetic behind them.
//
// Positions are zero-based (line, character) pairs; characters count
// runes. Every change in a batch refers to the text before the batch.
package textedit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ChangeType int

const (
	Insert ChangeType = iota
	Delete
	Update
)

func (t ChangeType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Update:
		return "update"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

type Position struct {
	Line      int
	Character int
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Character < o.Character)
}

// TextChange replaces [Start, End) with Text.
type TextChange struct {
	Type  ChangeType
	Start Position
	End   Position
	Text  string
}

// NewTextChange classifies the change from its range and text.
func NewTextChange(start, end Position, text string) TextChange {
	t := Update
	switch {
	case start == end:
		t = Insert
	case text == "":
		t = Delete
	}
	return TextChange{Type: t, Start: start, End: end, Text: text}
}

// LocalChange is an edit observed in the host editor. RangeOffset is the
// rune offset of Start.
type LocalChange struct {
	Start       Position
	End         Position
	RangeOffset int
	RangeLength int
	Text        string
}

var ErrOverlap = errors.New("textedit: overlapping changes")

// OffsetAt converts pos to a rune offset in text. Positions past the end
// of a line or of the text are clamped.
func OffsetAt(text string, pos Position) int {
	line, offset := 0, 0
	runes := []rune(text)
	for offset < len(runes) && line < pos.Line {
		if runes[offset] == '\n' {
			line++
		}
		offset++
	}
	if line < pos.Line {
		return len(runes)
	}
	for col := 0; col < pos.Character && offset < len(runes) && runes[offset] != '\n'; col++ {
		offset++
	}
	return offset
}

// PositionAt converts a rune offset in text to a position.
func PositionAt(text string, offset int) Position {
	var pos Position
	for i, r := range []rune(text) {
		if i >= offset {
			break
		}
		if r == '\n' {
			pos.Line++
			pos.Character = 0
		} else {
			pos.Character++
		}
	}
	return pos
}

// EndPosition is the position just past the last rune of text.
func EndPosition(text string) Position {
	return PositionAt(text, len([]rune(text)))
}

// Diff returns the edits turning old into new: one change covering the
// span between their common prefix and common suffix, or none.
func Diff(old, new string) []TextChange {
	start, oldEnd, newEnd, ok := span(old, new)
	if !ok {
		return nil
	}
	return []TextChange{NewTextChange(
		PositionAt(old, start),
		PositionAt(old, oldEnd),
		string([]rune(new)[start:newEnd]),
	)}
}

// DiffLocal is Diff expressed as host editor change records.
func DiffLocal(old, new string) []LocalChange {
	start, oldEnd, newEnd, ok := span(old, new)
	if !ok {
		return nil
	}
	return []LocalChange{{
		Start:       PositionAt(old, start),
		End:         PositionAt(old, oldEnd),
		RangeOffset: start,
		RangeLength: oldEnd - start,
		Text:        string([]rune(new)[start:newEnd]),
	}}
}

func span(old, new string) (start, oldEnd, newEnd int, ok bool) {
	if old == new {
		return 0, 0, 0, false
	}
	a, b := []rune(old), []rune(new)
	for start < len(a) && start < len(b) && a[start] == b[start] {
		start++
	}
	oldEnd, newEnd = len(a), len(b)
	for oldEnd > start && newEnd > start && a[oldEnd-1] == b[newEnd-1] {
		oldEnd--
		newEnd--
	}
	return start, oldEnd, newEnd, true
}

// Apply applies a batch of changes to text. Changes may arrive in any
// order but must not overlap.
func Apply(text string, changes []TextChange) (string, error) {
	type edit struct {
		start, end int
		text       string
	}
	edits := make([]edit, 0, len(changes))
	for _, c := range changes {
		start, end := OffsetAt(text, c.Start), OffsetAt(text, c.End)
		if end < start {
			return "", fmt.Errorf("textedit: range ends before it starts: %+v", c)
		}
		edits = append(edits, edit{start, end, c.Text})
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for i := 1; i < len(edits); i++ {
		if edits[i].end > edits[i-1].start {
			return "", ErrOverlap
		}
	}

	runes := []rune(text)
	for _, e := range edits {
		var b strings.Builder
		b.WriteString(string(runes[:e.start]))
		b.WriteString(e.text)
		b.WriteString(string(runes[e.end:]))
		runes = []rune(b.String())
	}
	return string(runes), nil
}
