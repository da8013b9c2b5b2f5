package textedit

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Edit replaces Length runes at Offset with Text. Edits of one batch
// refer to the same text and do not overlap.
type Edit struct {
	Offset int
	Length int
	Text   string
}

func (e Edit) end() int { return e.Offset + e.Length }

// EditsFromChanges converts changes made against text to offset form.
func EditsFromChanges(text string, changes []TextChange) []Edit {
	edits := make([]Edit, 0, len(changes))
	for _, c := range changes {
		start, end := OffsetAt(text, c.Start), OffsetAt(text, c.End)
		edits = append(edits, Edit{Offset: start, Length: max(end-start, 0), Text: c.Text})
	}
	return edits
}

// ChangesFromEdits converts edits against text back to positions.
func ChangesFromEdits(text string, edits []Edit) []TextChange {
	changes := make([]TextChange, 0, len(edits))
	for _, e := range edits {
		changes = append(changes, NewTextChange(PositionAt(text, e.Offset), PositionAt(text, e.end()), e.Text))
	}
	return changes
}

// EditFromLocal is the offset form of a host change.
func EditFromLocal(c LocalChange) Edit {
	return Edit{Offset: c.RangeOffset, Length: c.RangeLength, Text: c.Text}
}

// ApplyEdits applies a batch in offset form. Offsets past the end are
// clamped.
func ApplyEdits(text string, edits []Edit) string {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset > sorted[j].Offset })

	runes := []rune(text)
	for _, e := range sorted {
		start := min(e.Offset, len(runes))
		end := min(e.end(), len(runes))
		var b strings.Builder
		b.WriteString(string(runes[:start]))
		b.WriteString(e.Text)
		b.WriteString(string(runes[end:]))
		runes = []rune(b.String())
	}
	return string(runes)
}

// Transform moves edits over against, a concurrent batch made on the same
// text, so they apply after it. When both insert at one offset, after
// places the moved insert behind the other one. Text inserted inside a
// range the other batch replaced is dropped, and a replaced range grows
// over text the other batch inserted inside it, so both orders agree.
func Transform(edits, against []Edit, after bool) []Edit {
	out := make([]Edit, 0, len(edits))
	for _, e := range edits {
		if e.Length == 0 {
			at, inside := mapOffset(e.Offset, against, after)
			if !inside {
				out = append(out, Edit{Offset: at, Text: e.Text})
			}
			continue
		}
		start, _ := mapOffset(e.Offset, against, true)
		end, _ := mapOffset(e.end(), against, false)
		out = append(out, Edit{Offset: start, Length: max(end-start, 0), Text: e.Text})
	}
	return out
}

// mapOffset follows offset through against. An offset strictly inside a
// replaced range collapses to one of its ends and reports inside; stick
// picks the end after the inserted text.
func mapOffset(offset int, against []Edit, stick bool) (int, bool) {
	shift, inside := 0, false
	for _, a := range against {
		inserted := utf8.RuneCountInString(a.Text)
		switch {
		case a.end() < offset, a.end() == offset && a.Length > 0:
			shift += inserted - a.Length
		case a.Offset == offset && a.Length == 0:
			if stick {
				shift += inserted
			}
		case a.Offset < offset && offset < a.end():
			inside = true
			shift -= offset - a.Offset
			if stick {
				shift += inserted
			}
		}
	}
	return offset + shift, inside
}
