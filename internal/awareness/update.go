package awareness

import (
	"fmt"

	"gihan9a/roomsync/internal/codec"
	"gihan9a/roomsync/internal/replica"
)

// record is the wire form of one client's presence. A nil State encodes
// as null and means the client went offline.
type record struct {
	Client replica.ClientID `cbor:"1,keyasint"`
	Clock  uint64           `cbor:"2,keyasint"`
	State  State            `cbor:"3,keyasint"`
}

// EncodeUpdate encodes the current state and clock of ids. Unknown ids
// are skipped.
func (a *Awareness) EncodeUpdate(ids []replica.ClientID) ([]byte, error) {
	a.mu.Lock()
	records := make([]record, 0, len(ids))
	for _, id := range ids {
		m, ok := a.meta[id]
		if !ok {
			continue
		}
		records = append(records, record{Client: id, Clock: m.clock, State: a.states[id]})
	}
	a.mu.Unlock()

	data, err := codec.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode presence: %w", err)
	}
	return data, nil
}

// ApplyUpdate merges an encoded update. A record is accepted when its
// clock is newer than the known one, or equal and carrying a removal of
// a state still present. A remote removal of the local client is answered
// by bumping the local clock instead, so the next broadcast revives it.
func (a *Awareness) ApplyUpdate(update []byte, origin any) error {
	var records []record
	if err := codec.Unmarshal(update, &records); err != nil {
		return fmt.Errorf("decode presence: %w", err)
	}

	var updated, changed Change
	now := a.clock.Now()

	a.mu.Lock()
	for _, r := range records {
		m, known := a.meta[r.Client]
		prev, had := a.states[r.Client]
		if known && !(m.clock < r.Clock || (m.clock == r.Clock && r.State == nil && had)) {
			continue
		}

		clk := r.Clock
		if r.State == nil {
			if r.Client == a.client && had {
				clk++
			} else {
				delete(a.states, r.Client)
			}
		} else {
			a.states[r.Client] = r.State
		}
		a.meta[r.Client] = meta{clock: clk, lastUpdated: now}

		switch {
		case r.Client == a.client:
			// Remote echoes of the local state are never reported.
		case r.State != nil && !had:
			updated.Added = append(updated.Added, r.Client)
			changed.Added = append(changed.Added, r.Client)
		case r.State == nil && had:
			updated.Removed = append(updated.Removed, r.Client)
			changed.Removed = append(changed.Removed, r.Client)
		case r.State != nil:
			updated.Updated = append(updated.Updated, r.Client)
			if !equal(prev, r.State) {
				changed.Updated = append(changed.Updated, r.Client)
			}
		}
	}
	a.mu.Unlock()

	a.emit(updated, changed, origin)
	return nil
}
