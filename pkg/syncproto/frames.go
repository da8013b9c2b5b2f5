package syncproto

// SyncStep1Frame builds a complete frame opening a sync exchange.
func SyncStep1Frame(doc Document) []byte {
	enc := NewEncoder()
	enc.WriteKind(MessageSync)
	WriteSyncStep1(enc, doc)
	return enc.Bytes()
}

// UpdateFrame builds a complete frame carrying one document update.
func UpdateFrame(update []byte) []byte {
	enc := NewEncoder()
	enc.WriteKind(MessageSync)
	WriteUpdate(enc, update)
	return enc.Bytes()
}

// AwarenessFrame builds a complete frame carrying an encoded presence
// update.
func AwarenessFrame(update []byte) []byte {
	enc := NewEncoder()
	enc.WriteKind(MessageAwareness)
	enc.WriteVarBytes(update)
	return enc.Bytes()
}

func AwarenessQueryFrame() []byte {
	enc := NewEncoder()
	enc.WriteKind(MessageAwarenessQuery)
	return enc.Bytes()
}

func PermissionDeniedFrame(reason string) []byte {
	enc := NewEncoder()
	enc.WriteKind(MessageAuth)
	WritePermissionDenied(enc, reason)
	return enc.Bytes()
}
