package syncproto

import (
	"errors"
	"fmt"
)

// SyncType identifies a sub-message inside a MessageSync frame.
type SyncType uint64

const (
	// SyncStep1 carries the sender's state vector.
	SyncStep1 SyncType = 0
	// SyncStep2 answers a step 1 with every update the asker is missing.
	SyncStep2 SyncType = 1
	// SyncUpdate carries one incremental update.
	SyncUpdate SyncType = 2
)

var ErrUnknownSyncType = errors.New("syncproto: unknown sync message type")

// Document is the replicated state a sync exchange operates on.
type Document interface {
	EncodeStateVector() []byte
	EncodeStateAsUpdate(stateVector []byte) ([]byte, error)
	ApplyUpdate(update []byte, origin any) error
}

// WriteSyncStep1 appends a step 1 sub-message announcing doc's state.
func WriteSyncStep1(enc *Encoder, doc Document) {
	enc.WriteUvarint(uint64(SyncStep1))
	enc.WriteVarBytes(doc.EncodeStateVector())
}

// WriteSyncStep2 appends the updates a peer with stateVector is missing.
func WriteSyncStep2(enc *Encoder, doc Document, stateVector []byte) error {
	update, err := doc.EncodeStateAsUpdate(stateVector)
	if err != nil {
		return err
	}
	enc.WriteUvarint(uint64(SyncStep2))
	enc.WriteVarBytes(update)
	return nil
}

func WriteUpdate(enc *Encoder, update []byte) {
	enc.WriteUvarint(uint64(SyncUpdate))
	enc.WriteVarBytes(update)
}

// ReadSyncMessage consumes one sync sub-message from dec. A step 1 is
// answered by appending a step 2 to enc; step 2 and update payloads are
// applied to doc with the given origin. The sub-message type is returned
// so callers can react to a completed handshake.
func ReadSyncMessage(dec *Decoder, enc *Encoder, doc Document, origin any) (SyncType, error) {
	raw, err := dec.ReadUvarint()
	if err != nil {
		return 0, err
	}
	syncType := SyncType(raw)
	payload, err := dec.ReadVarBytes()
	if err != nil {
		return syncType, err
	}

	switch syncType {
	case SyncStep1:
		if err := WriteSyncStep2(enc, doc, payload); err != nil {
			return syncType, fmt.Errorf("answer sync step 1: %w", err)
		}
	case SyncStep2, SyncUpdate:
		if err := doc.ApplyUpdate(payload, origin); err != nil {
			return syncType, fmt.Errorf("apply sync payload: %w", err)
		}
	default:
		return syncType, fmt.Errorf("%w: %d", ErrUnknownSyncType, raw)
	}
	return syncType, nil
}
