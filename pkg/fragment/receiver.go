package fragment

import (
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/relchan/pkg/packet"
)

var log = logging.MustGetLogger("fragment")

type buffer struct {
	shards [][]byte
	filled int
}

// Receiver reassembles fragmented messages. Shards may arrive in any order
// and more than once.
type Receiver struct {
	buffers map[packet.MessageID]*buffer
}

// NewReceiver returns an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{buffers: make(map[packet.MessageID]*buffer)}
}

// Pending returns the number of messages with at least one shard buffered.
func (r *Receiver) Pending() int { return len(r.buffers) }

// Has reports whether a reassembly for id is in progress.
func (r *Receiver) Has(id packet.MessageID) bool {
	_, ok := r.buffers[id]
	return ok
}

// Discard drops any shards buffered for id.
func (r *Receiver) Discard(id packet.MessageID) { delete(r.buffers, id) }

// Receive stores f and returns the reassembled payload once every shard of
// its message has arrived. Shards with inconsistent metadata are ignored.
func (r *Receiver) Receive(f packet.FragmentData) ([]byte, bool) {
	if !f.Valid() {
		log.WithField("fragment", f).Debug("Ignoring malformed fragment")
		return nil, false
	}

	buf, ok := r.buffers[f.MessageID]
	if !ok {
		buf = &buffer{shards: make([][]byte, f.NumFragments)}
		r.buffers[f.MessageID] = buf
	}
	if len(buf.shards) != int(f.NumFragments) {
		log.WithField("fragment", f).Debugf("Ignoring fragment: message expects %d shards", len(buf.shards))
		return nil, false
	}
	if buf.shards[f.FragmentID] == nil {
		buf.shards[f.FragmentID] = append([]byte{}, f.Bytes...)
		buf.filled++
	}
	if buf.filled < len(buf.shards) {
		return nil, false
	}

	delete(r.buffers, f.MessageID)
	n := 0
	for _, s := range buf.shards {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range buf.shards {
		out = append(out, s...)
	}
	return out, true
}
