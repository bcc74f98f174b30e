package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	headerLen = 5 // fType(1 byte), chID(2 byte), payLen(2 byte)

	// MaxFramePayload is the largest body a single frame can carry.
	MaxFramePayload = math.MaxUint16
)

var (
	// ErrShortFrame is returned when a packet ends in the middle of a frame.
	ErrShortFrame = errors.New("frame: truncated")
	// ErrInvalidFrame is returned when a frame body cannot be decoded.
	ErrInvalidFrame = errors.New("frame: invalid body")
)

// FrameType represents the frame type.
type FrameType byte

func (ft FrameType) String() string {
	var names = []string{
		SingleType:   "SINGLE",
		FragmentType: "FRAGMENT",
		AckType:      "ACK",
	}
	if int(ft) >= len(names) || names[ft] == "" {
		return fmt.Sprintf("UNKNOWN:%d", ft)
	}
	return names[ft]
}

// Frame types.
const (
	SingleType   = FrameType(0x1)
	FragmentType = FrameType(0x2)
	AckType      = FrameType(0x3)
)

// Frame is one channel unit or ack inside a packet.
type Frame []byte

// MakeFrame creates a new Frame.
func MakeFrame(ft FrameType, chID uint16, pay []byte) Frame {
	f := make(Frame, headerLen+len(pay))
	f[0] = byte(ft)
	binary.BigEndian.PutUint16(f[1:3], chID)
	binary.BigEndian.PutUint16(f[3:5], uint16(len(pay)))
	copy(f[5:], pay)
	return f
}

// Type returns the frame's type.
func (f Frame) Type() FrameType { return FrameType(f[0]) }

// Channel returns the id of the channel the frame belongs to.
func (f Frame) Channel() uint16 { return binary.BigEndian.Uint16(f[1:3]) }

// PayLen returns the expected payload len.
func (f Frame) PayLen() int { return int(binary.BigEndian.Uint16(f[3:5])) }

// Pay returns the payload.
func (f Frame) Pay() []byte { return f[headerLen:] }

// String implements io.Stringer
func (f Frame) String() string {
	return fmt.Sprintf("<type:%s><ch:%d><size:%d>", f.Type(), f.Channel(), f.PayLen())
}

// Field numbers of frame bodies.
const (
	fieldID    protowire.Number = 1
	fieldTick  protowire.Number = 2
	fieldBytes protowire.Number = 3

	fieldFragMessageID protowire.Number = 1
	fieldFragID        protowire.Number = 2
	fieldFragNum       protowire.Number = 3
	fieldFragBytes     protowire.Number = 4
)

// EncodeUnit encodes a channel unit as a frame.
func EncodeUnit(chID uint16, u Unit) Frame {
	var b []byte
	switch u := u.(type) {
	case SingleData:
		if u.ID != nil {
			b = protowire.AppendTag(b, fieldID, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(*u.ID))
		}
		if u.Tick != nil {
			b = protowire.AppendTag(b, fieldTick, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(*u.Tick))
		}
		b = protowire.AppendTag(b, fieldBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Bytes)
		return MakeFrame(SingleType, chID, b)

	case FragmentData:
		b = protowire.AppendTag(b, fieldFragMessageID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.MessageID))
		b = protowire.AppendTag(b, fieldFragID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.FragmentID))
		b = protowire.AppendTag(b, fieldFragNum, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(u.NumFragments))
		b = protowire.AppendTag(b, fieldFragBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Bytes)
		return MakeFrame(FragmentType, chID, b)

	default:
		panic(fmt.Sprintf("packet: unknown unit %T", u))
	}
}

// EncodeAck encodes an ack signal for id on the given channel.
func EncodeAck(chID uint16, id MessageID) Frame {
	b := protowire.AppendTag(nil, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(id))
	return MakeFrame(AckType, chID, b)
}

// EncodedUnitLen returns the size of the frame EncodeUnit would produce.
func EncodedUnitLen(u Unit) int {
	n := headerLen
	switch u := u.(type) {
	case SingleData:
		if u.ID != nil {
			n += protowire.SizeTag(fieldID) + protowire.SizeVarint(uint64(*u.ID))
		}
		if u.Tick != nil {
			n += protowire.SizeTag(fieldTick) + protowire.SizeVarint(uint64(*u.Tick))
		}
		n += protowire.SizeTag(fieldBytes) + protowire.SizeBytes(len(u.Bytes))
	case FragmentData:
		n += protowire.SizeTag(fieldFragMessageID) + protowire.SizeVarint(uint64(u.MessageID))
		n += protowire.SizeTag(fieldFragID) + protowire.SizeVarint(uint64(u.FragmentID))
		n += protowire.SizeTag(fieldFragNum) + protowire.SizeVarint(uint64(u.NumFragments))
		n += protowire.SizeTag(fieldFragBytes) + protowire.SizeBytes(len(u.Bytes))
	}
	return n
}

// DecodeFrames splits a packet into its frames.
func DecodeFrames(p []byte) ([]Frame, error) {
	var frames []Frame
	for len(p) > 0 {
		if len(p) < headerLen {
			return nil, ErrShortFrame
		}
		n := headerLen + int(binary.BigEndian.Uint16(p[3:5]))
		if len(p) < n {
			return nil, ErrShortFrame
		}
		frames = append(frames, Frame(p[:n]))
		p = p[n:]
	}
	return frames, nil
}

// Unit decodes the body of a SINGLE or FRAGMENT frame.
func (f Frame) Unit() (Unit, error) {
	switch f.Type() {
	case SingleType:
		var d SingleData
		err := consumeFields(f.Pay(), func(num protowire.Number, v uint64, b []byte) {
			switch num {
			case fieldID:
				id := MessageID(v)
				d.ID = &id
			case fieldTick:
				t := Tick(v)
				d.Tick = &t
			case fieldBytes:
				d.Bytes = append([]byte{}, b...)
			}
		})
		return d, err

	case FragmentType:
		var (
			d          FragmentData
			outOfRange bool
		)
		err := consumeFields(f.Pay(), func(num protowire.Number, v uint64, b []byte) {
			switch num {
			case fieldFragMessageID:
				d.MessageID = MessageID(v)
			case fieldFragID, fieldFragNum:
				if v > math.MaxUint8 {
					outOfRange = true
					return
				}
				if num == fieldFragID {
					d.FragmentID = uint8(v)
				} else {
					d.NumFragments = uint8(v)
				}
			case fieldFragBytes:
				d.Bytes = append([]byte{}, b...)
			}
		})
		if err == nil && outOfRange {
			err = ErrInvalidFrame
		}
		return d, err

	default:
		return nil, fmt.Errorf("frame: %s is not a unit", f.Type())
	}
}

// Ack decodes the body of an ACK frame.
func (f Frame) Ack() (MessageID, error) {
	if f.Type() != AckType {
		return 0, fmt.Errorf("frame: %s is not an ack", f.Type())
	}
	var (
		id    MessageID
		found bool
	)
	err := consumeFields(f.Pay(), func(num protowire.Number, v uint64, _ []byte) {
		if num == fieldID {
			id, found = MessageID(v), true
		}
	})
	if err == nil && !found {
		err = ErrInvalidFrame
	}
	return id, err
}

// consumeFields walks the varint and bytes fields of a frame body.
// Unknown field numbers are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, v uint64, b []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrInvalidFrame
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ErrInvalidFrame
			}
			if v > math.MaxUint16 {
				return ErrInvalidFrame
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ErrInvalidFrame
			}
			fn(num, 0, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrInvalidFrame
			}
			b = b[n:]
		}
	}
	return nil
}
