package sim

import (
	"encoding/binary"
	"errors"
)

// Sample is the message sent on every channel but sequenced unreliable ones.
type Sample struct {
	FromServer bool   `json:"s"`
	Seq        uint32 `json:"q"`
	Tick       uint16 `json:"t"`
	Pad        []byte `json:"p,omitempty"`
}

// Probe is the compact message sent on sequenced unreliable channels.
type Probe struct {
	FromServer bool
	Seq        uint32
	Tick       uint16
}

const probeLen = 7

var errProbeLen = errors.New("probe: wrong length")

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Probe) MarshalBinary() ([]byte, error) {
	b := make([]byte, probeLen)
	if p.FromServer {
		b[0] = 1
	}
	binary.BigEndian.PutUint32(b[1:5], p.Seq)
	binary.BigEndian.PutUint16(b[5:7], p.Tick)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Probe) UnmarshalBinary(b []byte) error {
	if len(b) != probeLen {
		return errProbeLen
	}
	p.FromServer = b[0] == 1
	p.Seq = binary.BigEndian.Uint32(b[1:5])
	p.Tick = binary.BigEndian.Uint16(b[5:7])
	return nil
}

// pad returns n bytes derived from seq, so the receiver can check a large
// message arrived intact.
func pad(n int, seq uint32) []byte {
	b := make([]byte, n)
	x := seq*2654435761 + 1
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}
