package channel

import (
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/skycoin/relchan/pkg/fragment"
	"github.com/skycoin/relchan/pkg/packet"
)

// Receiver turns arriving units into messages ready for the application.
type Receiver interface {
	// Ingest accepts a unit from the wire. Units may be duplicated or out of
	// order. ok reports whether ack must be sent back to the peer.
	Ingest(u packet.Unit) (ack packet.MessageID, ok bool)
	// Pull returns the next message ready for the application, if any.
	Pull() ([]byte, bool)
	// Advance updates the receiver's current tick.
	Advance(tick packet.Tick)
}

// readyQueue is the FIFO of payloads waiting to be pulled.
type readyQueue struct {
	items [][]byte
}

func (q *readyQueue) push(b []byte) { q.items = append(q.items, b) }

func (q *readyQueue) pull() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, true
}

// UnorderedUnreliableReceiver makes every payload ready as it arrives.
type UnorderedUnreliableReceiver struct {
	ready readyQueue
}

// NewUnorderedUnreliableReceiver returns an UnorderedUnreliableReceiver.
func NewUnorderedUnreliableReceiver() *UnorderedUnreliableReceiver {
	return &UnorderedUnreliableReceiver{}
}

// Ingest implements Receiver.
func (r *UnorderedUnreliableReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	d, ok := u.(packet.SingleData)
	if !ok {
		log.Debugf("Dropping %v on unordered unreliable channel", u)
		return 0, false
	}
	r.ready.push(d.Bytes)
	return 0, false
}

// Pull implements Receiver.
func (r *UnorderedUnreliableReceiver) Pull() ([]byte, bool) { return r.ready.pull() }

// Advance implements Receiver.
func (r *UnorderedUnreliableReceiver) Advance(packet.Tick) {}

// SequencedUnreliableReceiver only accepts payloads newer than the newest
// one seen so far.
type SequencedUnreliableReceiver struct {
	newest    packet.MessageID
	hasNewest bool
	ready     readyQueue
}

// NewSequencedUnreliableReceiver returns a SequencedUnreliableReceiver.
func NewSequencedUnreliableReceiver() *SequencedUnreliableReceiver {
	return &SequencedUnreliableReceiver{}
}

// Ingest implements Receiver.
func (r *SequencedUnreliableReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	d, ok := u.(packet.SingleData)
	if !ok || d.ID == nil {
		log.Debugf("Dropping %v on sequenced unreliable channel", u)
		return 0, false
	}
	if r.hasNewest && !d.ID.IsNewerThan(r.newest) {
		return 0, false
	}
	r.newest, r.hasNewest = *d.ID, true
	r.ready.push(d.Bytes)
	return 0, false
}

// Pull implements Receiver.
func (r *SequencedUnreliableReceiver) Pull() ([]byte, bool) { return r.ready.pull() }

// Advance implements Receiver.
func (r *SequencedUnreliableReceiver) Advance(packet.Tick) {}

type ingestResult int

const (
	ingestDrop      ingestResult = iota // not acked
	ingestPartial                       // fragment stored, not acked yet
	ingestDuplicate                     // acked, not delivered
	ingestComplete                      // whole message available
)

// reliableInput is the part of ingestion shared by the reliable receivers:
// id extraction, duplicate detection and fragment reassembly.
type reliableInput struct {
	fragments   *fragment.Receiver
	maxBuffered int
}

func newReliableInput(rs ReliableSettings) reliableInput {
	return reliableInput{fragments: fragment.NewReceiver(), maxBuffered: rs.MaxBuffered}
}

func (in *reliableInput) ingest(u packet.Unit, duplicate func(packet.MessageID) bool) (packet.MessageID, []byte, ingestResult) {
	switch u := u.(type) {
	case packet.SingleData:
		if u.ID == nil {
			log.Debugf("Dropping %v without id on reliable channel", u)
			return 0, nil, ingestDrop
		}
		if duplicate(*u.ID) {
			return *u.ID, nil, ingestDuplicate
		}
		return *u.ID, u.Bytes, ingestComplete

	case packet.FragmentData:
		id := u.MessageID
		if duplicate(id) {
			in.fragments.Discard(id)
			return id, nil, ingestDuplicate
		}
		if in.maxBuffered > 0 && !in.fragments.Has(id) && in.fragments.Pending() >= in.maxBuffered {
			log.WithField("id", id).Debug("Reassembly buffer full, dropping fragment")
			return id, nil, ingestDrop
		}
		b, ok := in.fragments.Receive(u)
		if !ok {
			return id, nil, ingestPartial
		}
		return id, b, ingestComplete
	}
	return 0, nil, ingestDrop
}

// UnorderedReliableReceiver delivers every message exactly once, in arrival
// order.
//
// Every id before nextExpected has been delivered; delivered holds the
// delivered ids at or after it, so memory only grows with the gaps.
type UnorderedReliableReceiver struct {
	input        reliableInput
	nextExpected packet.MessageID
	delivered    map[packet.MessageID]struct{}
	ready        readyQueue
}

// NewUnorderedReliableReceiver returns an UnorderedReliableReceiver.
func NewUnorderedReliableReceiver(rs ReliableSettings) *UnorderedReliableReceiver {
	return &UnorderedReliableReceiver{
		input:     newReliableInput(rs),
		delivered: make(map[packet.MessageID]struct{}),
	}
}

func (r *UnorderedReliableReceiver) duplicate(id packet.MessageID) bool {
	if r.nextExpected.IsNewerThan(id) {
		return true
	}
	_, ok := r.delivered[id]
	return ok
}

// Ingest implements Receiver.
func (r *UnorderedReliableReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	id, b, res := r.input.ingest(u, r.duplicate)
	switch res {
	case ingestDuplicate:
		return id, true
	case ingestComplete:
	default:
		return id, false
	}

	if id != r.nextExpected && r.input.maxBuffered > 0 && len(r.delivered) >= r.input.maxBuffered {
		log.WithField("id", id).Debug("Dedup window full, dropping message")
		return id, false
	}
	r.ready.push(b)
	r.delivered[id] = struct{}{}
	for {
		if _, ok := r.delivered[r.nextExpected]; !ok {
			break
		}
		delete(r.delivered, r.nextExpected)
		r.nextExpected = r.nextExpected.Next()
	}
	return id, true
}

// Pull implements Receiver.
func (r *UnorderedReliableReceiver) Pull() ([]byte, bool) { return r.ready.pull() }

// Advance implements Receiver.
func (r *UnorderedReliableReceiver) Advance(packet.Tick) {}

// SequencedReliableReceiver delivers a message only if it is newer than
// every message delivered before it. Stale messages are acked and dropped.
type SequencedReliableReceiver struct {
	input     reliableInput
	newest    packet.MessageID
	hasNewest bool
	ready     readyQueue
}

// NewSequencedReliableReceiver returns a SequencedReliableReceiver.
func NewSequencedReliableReceiver(rs ReliableSettings) *SequencedReliableReceiver {
	return &SequencedReliableReceiver{input: newReliableInput(rs)}
}

func (r *SequencedReliableReceiver) duplicate(id packet.MessageID) bool {
	return r.hasNewest && !id.IsNewerThan(r.newest)
}

// Ingest implements Receiver.
func (r *SequencedReliableReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	id, b, res := r.input.ingest(u, r.duplicate)
	switch res {
	case ingestDuplicate:
		return id, true
	case ingestComplete:
		r.newest, r.hasNewest = id, true
		r.ready.push(b)
		return id, true
	default:
		return id, false
	}
}

// Pull implements Receiver.
func (r *SequencedReliableReceiver) Pull() ([]byte, bool) { return r.ready.pull() }

// Advance implements Receiver.
func (r *SequencedReliableReceiver) Advance(packet.Tick) {}

// OrderedReliableReceiver delivers messages strictly in id order. Messages
// ahead of the next expected id wait in a buffer; a missing id holds back
// everything after it.
type OrderedReliableReceiver struct {
	input        reliableInput
	expectedNext packet.MessageID
	buffer       map[packet.MessageID][]byte
	ready        readyQueue
}

// NewOrderedReliableReceiver returns an OrderedReliableReceiver.
func NewOrderedReliableReceiver(rs ReliableSettings) *OrderedReliableReceiver {
	return &OrderedReliableReceiver{
		input:  newReliableInput(rs),
		buffer: make(map[packet.MessageID][]byte),
	}
}

func (r *OrderedReliableReceiver) duplicate(id packet.MessageID) bool {
	if r.expectedNext.IsNewerThan(id) {
		return true
	}
	_, ok := r.buffer[id]
	return ok
}

// Ingest implements Receiver.
func (r *OrderedReliableReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	id, b, res := r.input.ingest(u, r.duplicate)
	switch res {
	case ingestDuplicate:
		return id, true
	case ingestComplete:
	default:
		return id, false
	}

	if id != r.expectedNext {
		if r.input.maxBuffered > 0 && len(r.buffer) >= r.input.maxBuffered {
			log.WithField("id", id).Debug("Ordering buffer full, dropping message")
			return id, false
		}
		r.buffer[id] = b
		return id, true
	}

	r.ready.push(b)
	r.expectedNext = r.expectedNext.Next()
	for {
		next, ok := r.buffer[r.expectedNext]
		if !ok {
			break
		}
		delete(r.buffer, r.expectedNext)
		r.ready.push(next)
		r.expectedNext = r.expectedNext.Next()
	}
	return id, true
}

// Pull implements Receiver.
func (r *OrderedReliableReceiver) Pull() ([]byte, bool) { return r.ready.pull() }

// Advance implements Receiver.
func (r *OrderedReliableReceiver) Advance(packet.Tick) {}

// Buffered returns the number of messages waiting for a gap to fill.
func (r *OrderedReliableReceiver) Buffered() int { return len(r.buffer) }

// TickBufferedReceiver holds payloads until the current tick reaches the tick
// they were sent on. Payloads whose tick has passed are dropped.
//
// Buffered ticks are ordered by their distance ahead of the current tick, so
// everything kept lies within half the tick space of it. Before the first
// Advance the current tick is taken as zero; Advance re-anchors the buffer
// and drops whatever falls outside the new window.
type TickBufferedReceiver struct {
	tick    packet.Tick
	hasTick bool
	buffer  *treemap.Map // packet.Tick -> [][]byte
}

// NewTickBufferedReceiver returns a TickBufferedReceiver.
func NewTickBufferedReceiver() *TickBufferedReceiver {
	r := &TickBufferedReceiver{}
	r.buffer = treemap.NewWith(r.compareTicks)
	return r
}

func (r *TickBufferedReceiver) compareTicks(a, b interface{}) int {
	da, db := a.(packet.Tick)-r.tick, b.(packet.Tick)-r.tick
	switch {
	case da < db:
		return -1
	case da > db:
		return 1
	default:
		return 0
	}
}

// due reports whether tick is the current tick or one still to come. A tick
// exactly half the tick space away counts as past.
func (r *TickBufferedReceiver) due(tick packet.Tick) bool {
	return tick == r.tick || tick.IsNewerThan(r.tick)
}

// Ingest implements Receiver.
func (r *TickBufferedReceiver) Ingest(u packet.Unit) (packet.MessageID, bool) {
	d, ok := u.(packet.SingleData)
	if !ok || d.Tick == nil {
		log.Debugf("Dropping %v on tick buffered channel", u)
		return 0, false
	}
	tick := *d.Tick
	if r.hasTick && !r.due(tick) {
		log.WithField("tick", tick).Debug("Dropping payload for past tick")
		return 0, false
	}
	var payloads [][]byte
	if v, found := r.buffer.Get(tick); found {
		payloads = v.([][]byte)
	}
	r.buffer.Put(tick, append(payloads, d.Bytes))
	return 0, false
}

// Pull implements Receiver.
func (r *TickBufferedReceiver) Pull() ([]byte, bool) {
	if !r.hasTick {
		return nil, false
	}
	k, v := r.buffer.Min()
	if k == nil || k.(packet.Tick) != r.tick {
		return nil, false
	}
	payloads := v.([][]byte)
	b := payloads[0]
	if len(payloads) == 1 {
		r.buffer.Remove(k)
	} else {
		r.buffer.Put(k, payloads[1:])
	}
	return b, true
}

// Advance implements Receiver.
func (r *TickBufferedReceiver) Advance(tick packet.Tick) {
	if r.hasTick && tick == r.tick {
		return
	}
	keys, values := r.buffer.Keys(), r.buffer.Values()
	r.buffer.Clear()
	r.tick, r.hasTick = tick, true

	for i, k := range keys {
		if !r.due(k.(packet.Tick)) {
			log.WithField("tick", k).Debug("Dropping payloads for past tick")
			continue
		}
		r.buffer.Put(k, values[i])
	}
}

// Buffered returns the number of ticks with payloads waiting.
func (r *TickBufferedReceiver) Buffered() int { return r.buffer.Size() }
