package replica

import (
	"cmp"
	"fmt"
)

// ClientID identifies one replica. Every replica editing a room must use a
// distinct id.
type ClientID uint64

// OpKind is the structural meaning of an Op.
type OpKind uint8

const (
	OpCreate OpKind = iota + 1
	OpRemove
	OpEdit
	OpSave
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpEdit:
		return "edit"
	case OpSave:
		return "save"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one replicated operation. (Client, Clock) is unique; Lamport
// orders ops across clients.
type Op struct {
	Client  ClientID `cbor:"1,keyasint"`
	Clock   uint64   `cbor:"2,keyasint"`
	Lamport uint64   `cbor:"3,keyasint"`
	Kind    OpKind   `cbor:"4,keyasint"`
	Path    string   `cbor:"5,keyasint"`
	Start   int      `cbor:"6,keyasint,omitempty"`
	End     int      `cbor:"7,keyasint,omitempty"`
	Text    string   `cbor:"8,keyasint,omitempty"`
}

// compareOps is the total replay order shared by every replica.
func compareOps(a, b Op) int {
	if c := cmp.Compare(a.Lamport, b.Lamport); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Client, b.Client); c != 0 {
		return c
	}
	return cmp.Compare(a.Clock, b.Clock)
}

type file struct {
	text  []rune
	saves uint64
}

// apply mutates files with op. Offsets are clamped to the current text,
// since a concurrent op ordered earlier may have shortened it.
func (op Op) apply(files map[string]*file) {
	switch op.Kind {
	case OpCreate:
		if _, ok := files[op.Path]; !ok {
			files[op.Path] = &file{text: []rune(op.Text)}
		}
	case OpRemove:
		delete(files, op.Path)
	case OpEdit:
		f, ok := files[op.Path]
		if !ok {
			return
		}
		n := len(f.text)
		start := min(max(op.Start, 0), n)
		end := min(max(op.End, start), n)
		insert := []rune(op.Text)
		text := make([]rune, 0, n-(end-start)+len(insert))
		text = append(text, f.text[:start]...)
		text = append(text, insert...)
		text = append(text, f.text[end:]...)
		f.text = text
	case OpSave:
		if f, ok := files[op.Path]; ok {
			f.saves++
		}
	}
}
