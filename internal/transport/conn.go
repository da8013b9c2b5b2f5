package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one message-oriented socket. ReadMessage blocks until a frame
// arrives or the connection closes; Close unblocks it. WriteMessage may be
// called from several goroutines.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to a room URL.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// Pipe returns the two ends of an in-process connection. Writes never
// block; frames queue until the other end reads them. Closing either end
// closes both.
func Pipe() (Conn, Conn) {
	p := &pipe{done: make(chan struct{})}
	ab := newQueue()
	ba := newQueue()
	return &pipeEnd{pipe: p, in: ba, out: ab}, &pipeEnd{pipe: p, in: ab, out: ba}
}

type pipe struct {
	once sync.Once
	done chan struct{}
}

type queue struct {
	mu     sync.Mutex
	frames [][]byte
	ready  chan struct{}
}

func newQueue() *queue { return &queue{ready: make(chan struct{}, 1)} }

type pipeEnd struct {
	*pipe
	in  *queue
	out *queue
}

// ReadMessage delivers frames written before Close, then ErrClosed.
func (e *pipeEnd) ReadMessage() ([]byte, error) {
	for {
		e.in.mu.Lock()
		if len(e.in.frames) > 0 {
			frame := e.in.frames[0]
			e.in.frames = e.in.frames[1:]
			e.in.mu.Unlock()
			return frame, nil
		}
		e.in.mu.Unlock()

		select {
		case <-e.done:
			return nil, ErrClosed
		default:
		}

		select {
		case <-e.in.ready:
		case <-e.done:
			return nil, ErrClosed
		}
	}
}

func (e *pipeEnd) WriteMessage(data []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	frame := append([]byte(nil), data...)

	e.out.mu.Lock()
	e.out.frames = append(e.out.frames, frame)
	e.out.mu.Unlock()

	select {
	case e.out.ready <- struct{}{}:
	default:
	}
	return nil
}

func (e *pipeEnd) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}
