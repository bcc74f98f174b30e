package protocol

import (
	"encoding"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"reflect"

	"github.com/klauspost/compress/zstd"

	"github.com/skycoin/relchan/pkg/packet"
)

const (
	headerLen = 3 // kind(2 byte), flags(1 byte)

	flagCompressed = 1 << 0
)

// MaxDecodedSize bounds a decompressed message body: a message is at most
// MaxFragments fragments of at most a maximum size packet each.
const MaxDecodedSize = packet.MaxFragments * math.MaxUint16

// ErrShortMessage is returned when decoding fewer bytes than a message header.
var ErrShortMessage = errors.New("registry: message too short")

var compressEncoder, _ = zstd.NewWriter(nil)

// Create a reader that caches decompressors.
var compressDecoder, _ = zstd.NewReader(nil,
	zstd.WithDecoderConcurrency(0),
	zstd.WithDecoderMaxMemory(MaxDecodedSize))

// SetCompressionThreshold makes Encode zstd-compress message bodies of at
// least n bytes. Zero disables compression.
func (r *Registry) SetCompressionThreshold(n int) { r.compressAbove = n }

// Encode serializes msg and prefixes it with its kind. Types implementing
// encoding.BinaryMarshaler encode themselves, anything else is JSON.
func (r *Registry) Encode(msg interface{}) ([]byte, error) {
	k, err := r.Kind(msg)
	if err != nil {
		return nil, err
	}

	body, err := marshal(msg)
	if err != nil {
		return nil, err
	}

	var flags byte
	if r.compressAbove > 0 && len(body) >= r.compressAbove {
		body = compressEncoder.EncodeAll(body, make([]byte, 0, len(body)))
		flags |= flagCompressed
	}

	b := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint16(b[:2], uint16(k))
	b[2] = flags
	return append(b, body...), nil
}

// Decode reverses Encode. It returns the message as a value of the
// registered (non-pointer) type.
func (r *Registry) Decode(b []byte) (interface{}, MessageKind, error) {
	if len(b) < headerLen {
		return nil, 0, ErrShortMessage
	}
	k := MessageKind(binary.BigEndian.Uint16(b[:2]))
	t, err := r.Type(k)
	if err != nil {
		return nil, k, err
	}

	body := b[headerLen:]
	if b[2]&flagCompressed != 0 {
		if body, err = compressDecoder.DecodeAll(body, nil); err != nil {
			return nil, k, err
		}
	}

	v := reflect.New(t)
	if u, ok := v.Interface().(encoding.BinaryUnmarshaler); ok {
		err = u.UnmarshalBinary(body)
	} else {
		err = json.Unmarshal(body, v.Interface())
	}
	if err != nil {
		return nil, k, err
	}
	return v.Elem().Interface(), k, nil
}

func marshal(msg interface{}) ([]byte, error) {
	if m, ok := msg.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	// Pick up MarshalBinary declared on the pointer receiver.
	if v := reflect.ValueOf(msg); v.Kind() != reflect.Ptr {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		if m, ok := p.Interface().(encoding.BinaryMarshaler); ok {
			return m.MarshalBinary()
		}
	}
	return json.Marshal(msg)
}
