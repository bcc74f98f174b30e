package packet

import (
	"encoding/binary"
)

// MessageID identifies a reliably tracked unit (a whole message, or every
// fragment of one). It is a 16-bit counter that wraps.
type MessageID uint16

// DecodeMessageID decodes a 2-byte slice to a MessageID.
func DecodeMessageID(b []byte) MessageID {
	if len(b) < 2 {
		return 0
	}
	return MessageID(binary.BigEndian.Uint16(b[:2]))
}

// Encode encodes the MessageID to a 2-byte slice.
func (id MessageID) Encode() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(id))
	return b
}

// Next returns the id following id, wrapping at the end of the id space.
func (id MessageID) Next() MessageID { return id + 1 }

// Diff returns the signed modular distance from other to id.
// A positive result means id is newer than other.
func (id MessageID) Diff(other MessageID) int16 { return int16(id - other) }

// IsNewerThan reports whether id comes after other, modulo wraparound.
func (id MessageID) IsNewerThan(other MessageID) bool { return id.Diff(other) > 0 }

// Tick is a simulation step counter. It wraps like MessageID.
type Tick uint16

// Next returns the tick following t.
func (t Tick) Next() Tick { return t + 1 }

// Diff returns the signed modular distance from other to t.
func (t Tick) Diff(other Tick) int16 { return int16(t - other) }

// IsNewerThan reports whether t comes after other, modulo wraparound.
func (t Tick) IsNewerThan(other Tick) bool { return t.Diff(other) > 0 }
