// Package replica is the replicated document shared by a room: a set of
// text files mutated by operations from many clients.
//
// Every operation is kept. The visible state is the replay of the op set
// in (lamport, client, clock) order, so two replicas holding the same ops
// hold the same files whatever order the ops arrived in, and receiving an
// op twice changes nothing.
package replica

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/codec"
	"gihan9a/roomsync/internal/observable"
)

var (
	ErrNoSuchFile   = errors.New("replica: no such file")
	ErrFileExists   = errors.New("replica: file already exists")
	ErrInvalidRange = errors.New("replica: invalid range")
)

// UpdateFunc receives the encoded ops a mutation integrated. origin is nil
// for local mutations.
type UpdateFunc func(update []byte, origin any)

// ChangeFunc receives one visible change per affected file.
type ChangeFunc func(Change)

// Doc is safe for concurrent use. Listeners run after the mutation that
// triggered them, outside the document lock.
type Doc struct {
	client ClientID

	mu      sync.Mutex
	lamport uint64
	logs    map[ClientID][]Op
	pending map[ClientID]map[uint64]Op
	order   []Op
	files   map[string]*file

	updates *observable.Registry[UpdateFunc]
	changes *observable.Registry[ChangeFunc]
}

// New creates an empty document owned by client.
func New(client ClientID, logger *zap.Logger) *Doc {
	return &Doc{
		client:  client,
		logs:    make(map[ClientID][]Op),
		pending: make(map[ClientID]map[uint64]Op),
		files:   make(map[string]*file),
		updates: observable.New[UpdateFunc](logger),
		changes: observable.New[ChangeFunc](logger),
	}
}

func (d *Doc) ClientID() ClientID { return d.client }

// OnUpdate registers fn for every integrated update.
func (d *Doc) OnUpdate(fn UpdateFunc) (unsubscribe func()) {
	return d.updates.Register(fn)
}

// OnChange registers fn for visible file changes.
func (d *Doc) OnChange(fn ChangeFunc) (unsubscribe func()) {
	return d.changes.Register(fn)
}

// CreateFile adds path with initial content.
func (d *Doc) CreateFile(path, text string) error {
	return d.local(path, func(f *file, exists bool) (Op, error) {
		if exists {
			return Op{}, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return Op{Kind: OpCreate, Text: text}, nil
	})
}

func (d *Doc) RemoveFile(path string) error {
	return d.local(path, func(f *file, exists bool) (Op, error) {
		if !exists {
			return Op{}, fmt.Errorf("%w: %s", ErrNoSuchFile, path)
		}
		return Op{Kind: OpRemove}, nil
	})
}

// Edit replaces the runes in [start, end) of path with text. An end past
// the current length is clamped.
func (d *Doc) Edit(path string, start, end int, text string) error {
	return d.local(path, func(f *file, exists bool) (Op, error) {
		if !exists {
			return Op{}, fmt.Errorf("%w: %s", ErrNoSuchFile, path)
		}
		if start < 0 || end < start || start > len(f.text) {
			return Op{}, fmt.Errorf("%w: [%d, %d) in %s", ErrInvalidRange, start, end, path)
		}
		return Op{Kind: OpEdit, Start: start, End: min(end, len(f.text)), Text: text}, nil
	})
}

// RequestSave asks every replica to persist path.
func (d *Doc) RequestSave(path string) error {
	return d.local(path, func(f *file, exists bool) (Op, error) {
		if !exists {
			return Op{}, fmt.Errorf("%w: %s", ErrNoSuchFile, path)
		}
		return Op{Kind: OpSave}, nil
	})
}

func (d *Doc) local(path string, build func(f *file, exists bool) (Op, error)) error {
	d.mu.Lock()
	f, exists := d.files[path]
	op, err := build(f, exists)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	op.Client = d.client
	op.Clock = uint64(len(d.logs[d.client]))
	op.Lamport = d.lamport + 1
	op.Path = path
	d.logs[d.client] = append(d.logs[d.client], op)

	changes := d.integrate([]Op{op}, nil)
	d.mu.Unlock()

	update, err := codec.Marshal([]Op{op})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	d.notify(update, nil, changes)
	return nil
}

// ApplyUpdate integrates a remote update. Ops already known are ignored;
// ops whose predecessors from the same client are missing wait until the
// gap is filled.
func (d *Doc) ApplyUpdate(update []byte, origin any) error {
	if len(update) == 0 {
		return nil
	}
	var ops []Op
	if err := codec.Unmarshal(update, &ops); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	d.mu.Lock()
	ready := d.admit(ops)
	if len(ready) == 0 {
		d.mu.Unlock()
		return nil
	}
	changes := d.integrate(ready, origin)
	d.mu.Unlock()

	integrated, err := codec.Marshal(ready)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	d.notify(integrated, origin, changes)
	return nil
}

// admit files ops into the per-client logs and returns the ones that
// became contiguous, in log order.
func (d *Doc) admit(ops []Op) []Op {
	for _, op := range ops {
		if op.Clock < uint64(len(d.logs[op.Client])) {
			continue
		}
		if d.pending[op.Client] == nil {
			d.pending[op.Client] = make(map[uint64]Op)
		}
		d.pending[op.Client][op.Clock] = op
	}

	var ready []Op
	for client, waiting := range d.pending {
		for {
			next := uint64(len(d.logs[client]))
			op, ok := waiting[next]
			if !ok {
				break
			}
			delete(waiting, next)
			d.logs[client] = append(d.logs[client], op)
			ready = append(ready, op)
		}
		if len(waiting) == 0 {
			delete(d.pending, client)
		}
	}
	return ready
}

// integrate places ops in the replay order and brings the file state up
// to date. Callers hold d.mu and have already appended ops to d.logs.
func (d *Doc) integrate(ops []Op, origin any) []Change {
	touched := make(map[string]snapshot)
	for _, op := range ops {
		if _, ok := touched[op.Path]; !ok {
			touched[op.Path] = d.snapshot(op.Path)
		}
	}

	replay := false
	for _, op := range ops {
		d.lamport = max(d.lamport, op.Lamport)
		i := sort.Search(len(d.order), func(i int) bool { return compareOps(d.order[i], op) > 0 })
		if i < len(d.order) {
			replay = true
		}
		d.order = slices.Insert(d.order, i, op)
	}

	if replay {
		d.files = make(map[string]*file)
		for _, op := range d.order {
			op.apply(d.files)
		}
	} else {
		for _, op := range ops {
			op.apply(d.files)
		}
	}

	paths := make([]string, 0, len(touched))
	for path := range touched {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var changes []Change
	for _, path := range paths {
		changes = append(changes, diffSnapshots(path, touched[path], d.snapshot(path), origin)...)
	}
	return changes
}

func (d *Doc) notify(update []byte, origin any, changes []Change) {
	d.updates.Notify("update", func(fn UpdateFunc) error {
		fn(update, origin)
		return nil
	})
	for _, change := range changes {
		d.changes.Notify("change", func(fn ChangeFunc) error {
			fn(change)
			return nil
		})
	}
}

// Text returns the current content of path.
func (d *Doc) Text(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[path]
	if !ok {
		return "", false
	}
	return string(f.text), true
}

// Files lists the paths in the document, sorted.
func (d *Doc) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.files))
	for path := range d.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns path -> content for every file.
func (d *Doc) Snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.files))
	for path, f := range d.files {
		out[path] = string(f.text)
	}
	return out
}

// EncodeStateVector encodes, per client, the number of ops integrated.
func (d *Doc) EncodeStateVector() []byte {
	d.mu.Lock()
	sv := make(map[ClientID]uint64, len(d.logs))
	for client, log := range d.logs {
		sv[client] = uint64(len(log))
	}
	d.mu.Unlock()

	data, err := codec.Marshal(sv)
	if err != nil {
		// A map of integers always encodes.
		panic(fmt.Sprintf("replica: encode state vector: %v", err))
	}
	return data
}

// EncodeStateAsUpdate encodes every op the holder of stateVector lacks.
// An empty state vector selects the whole document.
func (d *Doc) EncodeStateAsUpdate(stateVector []byte) ([]byte, error) {
	sv := map[ClientID]uint64{}
	if len(stateVector) > 0 {
		if err := codec.Unmarshal(stateVector, &sv); err != nil {
			return nil, fmt.Errorf("decode state vector: %w", err)
		}
	}

	d.mu.Lock()
	clients := make([]ClientID, 0, len(d.logs))
	for client := range d.logs {
		clients = append(clients, client)
	}
	slices.Sort(clients)

	ops := []Op{}
	for _, client := range clients {
		log := d.logs[client]
		if from := sv[client]; from < uint64(len(log)) {
			ops = append(ops, log[from:]...)
		}
	}
	d.mu.Unlock()

	return codec.Marshal(ops)
}
