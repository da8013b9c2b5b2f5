// Package syncproto implements the binary framing shared by the sync
// transport and the relay: a uvarint message kind followed by a
// kind-specific payload built from uvarints and length-prefixed byte
// strings.
package syncproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageKind is the leading uvarint of every frame.
type MessageKind uint64

const (
	MessageSync           MessageKind = 0
	MessageAwareness      MessageKind = 1
	MessageAuth           MessageKind = 2
	MessageAwarenessQuery MessageKind = 3
)

func (k MessageKind) String() string {
	switch k {
	case MessageSync:
		return "sync"
	case MessageAwareness:
		return "awareness"
	case MessageAuth:
		return "auth"
	case MessageAwarenessQuery:
		return "awareness-query"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(k))
	}
}

// ErrMalformed is returned when a frame ends early or a length prefix
// points past the end of the frame.
var ErrMalformed = errors.New("syncproto: malformed frame")

// Encoder accumulates one outbound frame.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) WriteUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// WriteVarBytes writes a length-prefixed byte string.
func (e *Encoder) WriteVarBytes(b []byte) {
	e.WriteUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteVarString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) WriteKind(kind MessageKind) {
	e.WriteUvarint(uint64(kind))
}

// Bytes returns the encoded frame. The slice aliases the encoder buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Decoder reads an inbound frame front to back.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(frame []byte) *Decoder { return &Decoder{buf: frame} }

func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, ErrMalformed
	}
	d.pos += n
	return v, nil
}

// ReadVarBytes reads a length-prefixed byte string. The result aliases
// the frame.
func (d *Decoder) ReadVarBytes() ([]byte, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, ErrMalformed
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *Decoder) ReadVarString() (string, error) {
	b, err := d.ReadVarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) ReadKind() (MessageKind, error) {
	v, err := d.ReadUvarint()
	return MessageKind(v), err
}

// Remaining reports the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }
