package syncproto

import "fmt"

// AuthType identifies a sub-message inside a MessageAuth frame.
type AuthType uint64

const AuthPermissionDenied AuthType = 0

// WritePermissionDenied appends a denial with a human readable reason.
func WritePermissionDenied(enc *Encoder, reason string) {
	enc.WriteUvarint(uint64(AuthPermissionDenied))
	enc.WriteVarString(reason)
}

// ReadAuthMessage consumes an auth sub-message and calls denied when it
// is a permission denial. Other auth types are ignored.
func ReadAuthMessage(dec *Decoder, denied func(reason string)) error {
	raw, err := dec.ReadUvarint()
	if err != nil {
		return err
	}
	if AuthType(raw) != AuthPermissionDenied {
		return nil
	}
	reason, err := dec.ReadVarString()
	if err != nil {
		return fmt.Errorf("read denial reason: %w", err)
	}
	denied(reason)
	return nil
}
