// Package binding ties one locally editable file to its counterpart in the
// replicated document.
//
// Each attempt to write a remote batch into the host editor raises the
// binder's applying flag for the duration of that call only. Local edit
// notifications that arrive while it is raised are the echo of that write
// and are dropped; everything else, including edits made between refused
// attempts, is forwarded to the document.
package binding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/clock"
	"gihan9a/roomsync/internal/textedit"
)

// ErrApplyFailed is returned when the host kept refusing a remote batch
// for every allowed attempt.
var ErrApplyFailed = errors.New("binding: remote edit could not be applied locally")

const defaultMaxApplyAttempts = 50

// Host is the editor surface a binder writes to.
type Host interface {
	// ApplyEdits applies the batch atomically. It returns false when the
	// buffer is busy and nothing was applied.
	ApplyEdits(ctx context.Context, path string, changes []textedit.TextChange) (bool, error)
	Save(ctx context.Context, path string) error
	Text(ctx context.Context, path string) (string, error)
}

// Channel carries local activity to the replicated document. Offsets of
// the changes it receives are in document coordinates; positions are only
// set when they match.
type Channel interface {
	SendChangeToRemote(change textedit.LocalChange) error
	SaveToRemote() error
}

type Options struct {
	// MaxApplyAttempts bounds the retries of a refused remote batch.
	// Zero means 50.
	MaxApplyAttempts int
	RetryDelay       time.Duration
	Clock            clock.Clock
	Logger           *zap.Logger
}

// Binder is safe for concurrent use. Remote batches are applied one at a
// time, in arrival order.
type Binder struct {
	path    string
	host    Host
	channel Channel
	opts    Options
	logger  *zap.Logger

	// applyMu serializes remote batches across their retries.
	applyMu  sync.Mutex
	applying atomic.Bool

	// mu guards pending and is held for each apply attempt and each
	// forwarded local batch.
	mu      sync.Mutex
	pending []*remoteBatch
}

// remoteBatch is a remote edit not yet written into the host. edits are
// relative to the host text with every earlier pending batch applied.
type remoteBatch struct {
	edits []textedit.Edit
	done  bool
	err   error
}

func New(path string, host Host, channel Channel, opts Options) *Binder {
	if opts.MaxApplyAttempts <= 0 {
		opts.MaxApplyAttempts = defaultMaxApplyAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{
		path:    path,
		host:    host,
		channel: channel,
		opts:    opts,
		logger:  logger.With(zap.String("path", path)),
	}
}

func (b *Binder) Path() string { return b.path }

// Applying reports whether a remote edit is being written locally.
func (b *Binder) Applying() bool { return b.applying.Load() }

// OnRemoteInitText replaces the local content with the shared content. A
// file that was empty and now holds text is saved right away.
func (b *Binder) OnRemoteInitText(ctx context.Context, text string) error {
	current, err := b.host.Text(ctx, b.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", b.path, err)
	}
	if current == text {
		return nil
	}

	change := textedit.NewTextChange(textedit.Position{}, textedit.EndPosition(current), text)
	if err := b.OnRemoteTextChanges(ctx, []textedit.TextChange{change}); err != nil {
		return err
	}
	if current == "" && text != "" {
		if err := b.host.Save(ctx, b.path); err != nil {
			return fmt.Errorf("save %s: %w", b.path, err)
		}
	}
	return nil
}

// OnRemoteTextChanges writes a remote batch into the host as one edit,
// retrying while the host refuses it. Local edits forwarded while the
// batch waits move it along so it still applies where it was meant to.
func (b *Binder) OnRemoteTextChanges(ctx context.Context, changes []textedit.TextChange) error {
	if len(changes) == 0 {
		return nil
	}
	batch, err := b.enqueue(ctx, changes)
	if err != nil {
		return err
	}

	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	for {
		b.mu.Lock()
		done, err := batch.done, batch.err
		head := batch
		if !done {
			head = b.pending[0]
		}
		b.mu.Unlock()
		if done {
			return err
		}

		if err := b.applyHead(ctx, head); err != nil && head != batch {
			b.logger.Error("earlier remote edit not applied", zap.Error(err))
		}
	}
}

func (b *Binder) enqueue(ctx context.Context, changes []textedit.TextChange) (*remoteBatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base, err := b.host.Text(ctx, b.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	for _, p := range b.pending {
		base = textedit.ApplyEdits(base, p.edits)
	}
	batch := &remoteBatch{edits: textedit.EditsFromChanges(base, changes)}
	b.pending = append(b.pending, batch)
	return batch, nil
}

// applyHead retries head until the host takes it or the attempts run out.
// Caller holds applyMu.
func (b *Binder) applyHead(ctx context.Context, head *remoteBatch) error {
	for attempt := 1; ; attempt++ {
		applied, err := b.attempt(ctx, head)
		if applied && err == nil {
			b.finish(head, nil)
			return nil
		}
		if attempt >= b.opts.MaxApplyAttempts {
			if err != nil {
				err = fmt.Errorf("%w: %s: %w", ErrApplyFailed, b.path, err)
			} else {
				err = fmt.Errorf("%w: %s", ErrApplyFailed, b.path)
			}
			b.finish(head, err)
			return err
		}

		b.logger.Warn("local apply refused, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if err := b.wait(ctx); err != nil {
			b.finish(head, err)
			return err
		}
	}
}

// attempt runs one host apply with the applying flag raised.
func (b *Binder) attempt(ctx context.Context, head *remoteBatch) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text, err := b.host.Text(ctx, b.path)
	if err != nil {
		return false, err
	}
	changes := textedit.ChangesFromEdits(text, head.edits)

	b.applying.Store(true)
	defer b.applying.Store(false)
	return b.host.ApplyEdits(ctx, b.path, changes)
}

func (b *Binder) finish(head *remoteBatch, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	head.done, head.err = true, err
	b.pending = slices.DeleteFunc(b.pending, func(p *remoteBatch) bool { return p == head })
}

func (b *Binder) wait(ctx context.Context) error {
	if b.opts.RetryDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.opts.Clock.After(b.opts.RetryDelay):
		return nil
	}
}

// OnLocalChanges forwards edits observed in the host. Batches observed
// while a remote edit is being applied are dropped. Changes are sent from
// the highest offset down so earlier offsets stay valid.
func (b *Binder) OnLocalChanges(changes []textedit.LocalChange) error {
	if b.applying.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forwardLocked(changes)
}

// SyncLocal reads the host's pending local edits with pull and forwards
// them. No remote edit is written while pull runs.
func (b *Binder) SyncLocal(ctx context.Context, pull func(context.Context) ([]textedit.LocalChange, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	changes, err := pull(ctx)
	if err != nil {
		return err
	}
	return b.forwardLocked(changes)
}

// forwardLocked sends changes to the document. Changes made on top of
// remote batches still pending are moved past them first, and the batches
// are moved past the changes. Caller holds b.mu.
func (b *Binder) forwardLocked(changes []textedit.LocalChange) error {
	if len(changes) == 0 {
		return nil
	}
	out := changes
	if len(b.pending) > 0 {
		edits := make([]textedit.Edit, 0, len(changes))
		for _, c := range changes {
			edits = append(edits, textedit.EditFromLocal(c))
		}
		for _, p := range b.pending {
			moved := textedit.Transform(p.edits, edits, false)
			edits = textedit.Transform(edits, p.edits, true)
			p.edits = moved
		}
		out = make([]textedit.LocalChange, 0, len(edits))
		for _, e := range edits {
			out = append(out, textedit.LocalChange{RangeOffset: e.Offset, RangeLength: e.Length, Text: e.Text})
		}
	}

	sorted := append([]textedit.LocalChange(nil), out...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RangeOffset > sorted[j].RangeOffset
	})
	for _, change := range sorted {
		if err := b.channel.SendChangeToRemote(change); err != nil {
			return fmt.Errorf("send change for %s: %w", b.path, err)
		}
	}
	return nil
}

// OnSave persists the local file when a peer asks for it.
func (b *Binder) OnSave(ctx context.Context) error {
	return b.host.Save(ctx, b.path)
}

// RequestSave asks every peer to persist the file.
func (b *Binder) RequestSave() error {
	return b.channel.SaveToRemote()
}
