package transport

import (
	"fmt"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/replica"
	"gihan9a/roomsync/pkg/syncproto"
)

// readMessage dispatches one inbound frame and returns the reply, which
// is only worth sending when it holds more than the message kind.
func (p *Provider) readMessage(data []byte, emitSynced bool) *syncproto.Encoder {
	enc := syncproto.NewEncoder()
	dec := syncproto.NewDecoder(data)

	kind, err := dec.ReadKind()
	if err != nil {
		p.logger.Error("protocol error: unreadable frame", zap.Error(err))
		return enc
	}
	h, ok := p.handlers[kind]
	if !ok {
		p.logger.Error("protocol error: unknown message kind", zap.Stringer("kind", kind))
		return enc
	}
	if err := h(enc, dec, emitSynced); err != nil {
		p.logger.Error("protocol error", zap.Stringer("kind", kind), zap.Error(err))
		return syncproto.NewEncoder()
	}
	return enc
}

func (p *Provider) handleSync(enc *syncproto.Encoder, dec *syncproto.Decoder, emitSynced bool) error {
	enc.WriteKind(syncproto.MessageSync)
	syncType, err := syncproto.ReadSyncMessage(dec, enc, p.doc, p)
	if err != nil {
		return err
	}
	if emitSynced && syncType == syncproto.SyncStep2 {
		p.setSynced(true)
	}
	return nil
}

func (p *Provider) handleAwarenessQuery(enc *syncproto.Encoder, _ *syncproto.Decoder, _ bool) error {
	states := p.awareness.GetStates()
	ids := make([]replica.ClientID, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	update, err := p.awareness.EncodeUpdate(ids)
	if err != nil {
		return err
	}
	enc.WriteKind(syncproto.MessageAwareness)
	enc.WriteVarBytes(update)
	return nil
}

func (p *Provider) handleAwareness(_ *syncproto.Encoder, dec *syncproto.Decoder, _ bool) error {
	update, err := dec.ReadVarBytes()
	if err != nil {
		return err
	}
	if err := p.awareness.ApplyUpdate(update, p); err != nil {
		return fmt.Errorf("apply presence: %w", err)
	}
	return nil
}

func (p *Provider) handleAuth(_ *syncproto.Encoder, dec *syncproto.Decoder, _ bool) error {
	return syncproto.ReadAuthMessage(dec, p.permissionDenied)
}
