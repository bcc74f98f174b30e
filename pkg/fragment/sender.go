// Package fragment splits oversized payloads into shards and puts them back
// together on the receiving side.
package fragment

import (
	"errors"
	"fmt"

	"github.com/skycoin/relchan/pkg/packet"
)

// DefaultSize is the default shard size and fragmentation threshold.
const DefaultSize = 1200

// ErrTooManyFragments is returned when a payload needs more than
// packet.MaxFragments shards at the configured size.
var ErrTooManyFragments = errors.New("fragment: payload needs more than 255 fragments")

// Sender builds fragments for payloads at or above Size bytes.
type Sender struct {
	Size int
}

// NewSender returns a Sender using size as both shard size and threshold.
// A non-positive size selects DefaultSize.
func NewSender(size int) *Sender {
	if size <= 0 {
		size = DefaultSize
	}
	return &Sender{Size: size}
}

// NeedsFragmentation reports whether payloads of length n must be fragmented.
func (s *Sender) NeedsFragmentation(n int) bool { return n >= s.Size }

// BuildFragments splits b into consecutive Size-byte shards; the last one may
// be shorter. Callers must check NeedsFragmentation first: passing a payload
// below the threshold panics.
func (s *Sender) BuildFragments(id packet.MessageID, b []byte) ([]packet.FragmentData, error) {
	if len(b) < s.Size {
		panic(fmt.Sprintf("fragment: payload of %d bytes is below the %d byte threshold", len(b), s.Size))
	}
	num := (len(b) + s.Size - 1) / s.Size
	if num > packet.MaxFragments {
		return nil, ErrTooManyFragments
	}

	frags := make([]packet.FragmentData, 0, num)
	for i := 0; i < num; i++ {
		end := (i + 1) * s.Size
		if end > len(b) {
			end = len(b)
		}
		frags = append(frags, packet.FragmentData{
			MessageID:    id,
			FragmentID:   uint8(i),
			NumFragments: uint8(num),
			Bytes:        b[i*s.Size : end],
		})
	}
	return frags, nil
}
