package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFrame_Units(t *testing.T) {
	id := MessageID(513)
	tick := Tick(42)

	units := []Unit{
		SingleData{Bytes: []byte("plain")},
		SingleData{ID: &id, Bytes: []byte("with id")},
		SingleData{Tick: &tick, Bytes: []byte("with tick")},
		SingleData{ID: &id, Bytes: []byte{}},
		FragmentData{MessageID: 7, FragmentID: 2, NumFragments: 3, Bytes: bytes.Repeat([]byte{9}, 300)},
	}

	var p []byte
	for i, u := range units {
		f := EncodeUnit(uint16(i), u)
		assert.Equal(t, len(f), EncodedUnitLen(u), "unit %d", i)
		p = append(p, f...)
	}
	p = append(p, EncodeAck(9, 65535)...)

	frames, err := DecodeFrames(p)
	require.NoError(t, err)
	require.Len(t, frames, len(units)+1)

	for i, u := range units {
		assert.Equal(t, uint16(i), frames[i].Channel())
		got, err := frames[i].Unit()
		require.NoError(t, err)
		switch want := u.(type) {
		case SingleData:
			gotS := got.(SingleData)
			assert.Equal(t, want.ID, gotS.ID)
			assert.Equal(t, want.Tick, gotS.Tick)
			assert.Equal(t, string(want.Bytes), string(gotS.Bytes))
		case FragmentData:
			assert.Equal(t, want, got)
		}
	}

	ack := frames[len(units)]
	assert.Equal(t, AckType, ack.Type())
	assert.Equal(t, uint16(9), ack.Channel())
	id, err = ack.Ack()
	require.NoError(t, err)
	assert.Equal(t, MessageID(65535), id)
}

func TestDecodeFrames_Malformed(t *testing.T) {
	f := EncodeUnit(1, SingleData{Bytes: []byte("hello")})

	_, err := DecodeFrames(f[:3])
	assert.Equal(t, ErrShortFrame, err)

	_, err = DecodeFrames(f[:len(f)-1])
	assert.Equal(t, ErrShortFrame, err)

	bad := MakeFrame(SingleType, 1, []byte{0xff, 0xff, 0xff})
	frames, err := DecodeFrames(bad)
	require.NoError(t, err)
	_, err = frames[0].Unit()
	assert.Equal(t, ErrInvalidFrame, err)

	// Fragment ids and counts must fit in a byte.
	for _, fields := range [][2]uint64{{0, 257}, {256, 3}} {
		var body []byte
		body = protowire.AppendTag(body, fieldFragMessageID, protowire.VarintType)
		body = protowire.AppendVarint(body, 0)
		body = protowire.AppendTag(body, fieldFragID, protowire.VarintType)
		body = protowire.AppendVarint(body, fields[0])
		body = protowire.AppendTag(body, fieldFragNum, protowire.VarintType)
		body = protowire.AppendVarint(body, fields[1])
		body = protowire.AppendTag(body, fieldFragBytes, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte("partial"))

		_, err = MakeFrame(FragmentType, 1, body).Unit()
		assert.Equal(t, ErrInvalidFrame, err, "fragment %d of %d", fields[0], fields[1])
	}

	_, err = MakeFrame(AckType, 1, nil).Ack()
	assert.Equal(t, ErrInvalidFrame, err)

	_, err = MakeFrame(FrameType(0x9), 1, nil).Unit()
	assert.Error(t, err)
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "ACK", AckType.String())
	assert.Equal(t, "UNKNOWN:0", FrameType(0).String())
	assert.Equal(t, "UNKNOWN:200", FrameType(200).String())
}
