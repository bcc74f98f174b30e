package channel

import (
	"errors"
	"math"
	"time"

	"github.com/skycoin/relchan/pkg/fragment"
	"github.com/skycoin/relchan/pkg/packet"
)

// ErrTooManyInFlight is returned by a reliable sender when the oldest unacked
// message is half the id space behind the next id; ids beyond that would no
// longer compare correctly on the receiving side.
var ErrTooManyInFlight = errors.New("channel: too many unacked messages in flight")

const maxInFlight = math.MaxUint16/2 + 1

// Sender turns application payloads into wire-ready units.
type Sender interface {
	// Enqueue accepts a payload for transmission.
	Enqueue(payload []byte) error
	// DrainReady returns the units to hand to the transport now.
	DrainReady() []packet.Unit
	// OnAck releases the message acked by the peer.
	OnAck(id packet.MessageID)
	// Advance updates the sender's notion of time, tick and round-trip time.
	Advance(now time.Time, tick packet.Tick, rtt time.Duration)
	// Outstanding returns the number of messages waiting for an ack.
	Outstanding() int
}

// UnorderedUnreliableSender sends every payload once, without an id.
type UnorderedUnreliableSender struct {
	queue [][]byte
}

// NewUnorderedUnreliableSender returns an UnorderedUnreliableSender.
func NewUnorderedUnreliableSender() *UnorderedUnreliableSender {
	return &UnorderedUnreliableSender{}
}

// Enqueue implements Sender.
func (s *UnorderedUnreliableSender) Enqueue(payload []byte) error {
	s.queue = append(s.queue, payload)
	return nil
}

// DrainReady implements Sender.
func (s *UnorderedUnreliableSender) DrainReady() []packet.Unit {
	if len(s.queue) == 0 {
		return nil
	}
	units := make([]packet.Unit, len(s.queue))
	for i, b := range s.queue {
		units[i] = packet.SingleData{Bytes: b}
	}
	s.queue = s.queue[:0]
	return units
}

// OnAck implements Sender.
func (s *UnorderedUnreliableSender) OnAck(packet.MessageID) {}

// Advance implements Sender.
func (s *UnorderedUnreliableSender) Advance(time.Time, packet.Tick, time.Duration) {}

// Outstanding implements Sender.
func (s *UnorderedUnreliableSender) Outstanding() int { return 0 }

// SequencedUnreliableSender sends every payload once, tagged with a wrapping
// sequence number so the receiver can discard stale ones.
type SequencedUnreliableSender struct {
	next  packet.MessageID
	queue []packet.Unit
}

// NewSequencedUnreliableSender returns a SequencedUnreliableSender.
func NewSequencedUnreliableSender() *SequencedUnreliableSender {
	return &SequencedUnreliableSender{}
}

// Enqueue implements Sender.
func (s *SequencedUnreliableSender) Enqueue(payload []byte) error {
	s.queue = append(s.queue, packet.NewSingle(s.next, payload))
	s.next = s.next.Next()
	return nil
}

// DrainReady implements Sender.
func (s *SequencedUnreliableSender) DrainReady() []packet.Unit {
	units := s.queue
	s.queue = nil
	return units
}

// OnAck implements Sender.
func (s *SequencedUnreliableSender) OnAck(packet.MessageID) {}

// Advance implements Sender.
func (s *SequencedUnreliableSender) Advance(time.Time, packet.Tick, time.Duration) {}

// Outstanding implements Sender.
func (s *SequencedUnreliableSender) Outstanding() int { return 0 }

type pendingMessage struct {
	units    []packet.Unit
	deadline time.Time
	fresh    bool
}

// ReliableSender backs the three reliable modes. Every message gets its own
// id and is sent again each time its resend deadline passes, until acked.
// There is no retry limit.
type ReliableSender struct {
	settings   ReliableSettings
	fragmenter *fragment.Sender

	nextID  packet.MessageID
	pending map[packet.MessageID]*pendingMessage
	order   []packet.MessageID // pending ids in enqueue order, acked ones removed lazily

	now         time.Time
	rtt         time.Duration
	resendCount uint64
}

// NewReliableSender returns a ReliableSender.
func NewReliableSender(rs ReliableSettings) *ReliableSender {
	rs = rs.withDefaults()
	return &ReliableSender{
		settings:   rs,
		fragmenter: fragment.NewSender(rs.FragmentSize),
		pending:    make(map[packet.MessageID]*pendingMessage),
	}
}

func (s *ReliableSender) resendDelay() time.Duration {
	return time.Duration(float64(s.rtt) * s.settings.RTTResendFactor)
}

// Enqueue implements Sender. Payloads of at least FragmentSize bytes are
// split into fragments sharing the message id.
func (s *ReliableSender) Enqueue(payload []byte) error {
	if oldest, ok := s.oldestPending(); ok && uint16(s.nextID-oldest) >= maxInFlight {
		return ErrTooManyInFlight
	}

	id := s.nextID
	var units []packet.Unit
	if s.fragmenter.NeedsFragmentation(len(payload)) {
		frags, err := s.fragmenter.BuildFragments(id, payload)
		if err != nil {
			return err
		}
		units = make([]packet.Unit, len(frags))
		for i, f := range frags {
			units[i] = f
		}
	} else {
		units = []packet.Unit{packet.NewSingle(id, payload)}
	}

	s.pending[id] = &pendingMessage{
		units:    units,
		deadline: s.now.Add(s.resendDelay()),
		fresh:    true,
	}
	s.order = append(s.order, id)
	s.nextID = id.Next()
	return nil
}

func (s *ReliableSender) oldestPending() (packet.MessageID, bool) {
	for len(s.order) > 0 {
		if _, ok := s.pending[s.order[0]]; ok {
			return s.order[0], true
		}
		s.order = s.order[1:]
	}
	return 0, false
}

// DrainReady implements Sender. It returns newly enqueued units and the
// units of every unacked message whose resend deadline has passed, in
// enqueue order, and pushes their deadlines forward.
func (s *ReliableSender) DrainReady() []packet.Unit {
	var units []packet.Unit
	delay := s.resendDelay()

	kept := s.order[:0]
	for _, id := range s.order {
		p, ok := s.pending[id]
		if !ok {
			continue
		}
		kept = append(kept, id)
		if !p.fresh && s.now.Before(p.deadline) {
			continue
		}
		if !p.fresh {
			s.resendCount++
			log.WithField("id", id).Debug("Resending unacked message")
		}
		p.fresh = false
		p.deadline = s.now.Add(delay)
		units = append(units, p.units...)
	}
	s.order = kept
	return units
}

// OnAck implements Sender.
func (s *ReliableSender) OnAck(id packet.MessageID) {
	delete(s.pending, id)
}

// Advance implements Sender.
func (s *ReliableSender) Advance(now time.Time, _ packet.Tick, rtt time.Duration) {
	s.now = now
	s.rtt = rtt
}

// Outstanding implements Sender.
func (s *ReliableSender) Outstanding() int { return len(s.pending) }

// Resends returns how many times messages were sent again after their
// deadline passed.
func (s *ReliableSender) Resends() uint64 { return s.resendCount }

// TickBufferedSender sends at most one payload per tick, tagged with the tick
// that was current when it was enqueued. Payloads are never resent.
type TickBufferedSender struct {
	tick     packet.Tick
	buffered map[packet.Tick][]byte
	ticks    []packet.Tick
}

// NewTickBufferedSender returns a TickBufferedSender.
func NewTickBufferedSender() *TickBufferedSender {
	return &TickBufferedSender{buffered: make(map[packet.Tick][]byte)}
}

// Enqueue implements Sender. A second payload in the same tick replaces the
// first one.
func (s *TickBufferedSender) Enqueue(payload []byte) error {
	if _, ok := s.buffered[s.tick]; ok {
		log.WithField("tick", s.tick).Debug("Replacing payload buffered for tick")
	} else {
		s.ticks = append(s.ticks, s.tick)
	}
	s.buffered[s.tick] = payload
	return nil
}

// DrainReady implements Sender.
func (s *TickBufferedSender) DrainReady() []packet.Unit {
	if len(s.ticks) == 0 {
		return nil
	}
	units := make([]packet.Unit, 0, len(s.ticks))
	for _, t := range s.ticks {
		tick := t
		units = append(units, packet.SingleData{Tick: &tick, Bytes: s.buffered[t]})
		delete(s.buffered, t)
	}
	s.ticks = s.ticks[:0]
	return units
}

// OnAck implements Sender.
func (s *TickBufferedSender) OnAck(packet.MessageID) {}

// Advance implements Sender.
func (s *TickBufferedSender) Advance(_ time.Time, tick packet.Tick, _ time.Duration) {
	s.tick = tick
}

// Outstanding implements Sender.
func (s *TickBufferedSender) Outstanding() int { return 0 }
