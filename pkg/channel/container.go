package channel

import (
	"time"

	"github.com/skycoin/relchan/pkg/packet"
)

// Builder builds containers for one channel.
type Builder struct {
	Settings Settings
}

// Build returns a fresh Container.
func (b Builder) Build() *Container {
	return NewContainer(b.Settings)
}

// Container is one instantiated channel: the sender and receiver selected by
// the channel's mode. It is owned by a single connection and is not safe for
// concurrent use.
type Container struct {
	Settings Settings

	sender   Sender
	receiver Receiver
}

// NewContainer returns a Container for s.
func NewContainer(s Settings) *Container {
	c := &Container{Settings: s}
	rs := s.Reliable.withDefaults()

	switch s.Mode {
	case SequencedUnreliable:
		c.sender = NewSequencedUnreliableSender()
		c.receiver = NewSequencedUnreliableReceiver()
	case UnorderedReliable:
		c.sender = NewReliableSender(rs)
		c.receiver = NewUnorderedReliableReceiver(rs)
	case SequencedReliable:
		c.sender = NewReliableSender(rs)
		c.receiver = NewSequencedReliableReceiver(rs)
	case OrderedReliable:
		c.sender = NewReliableSender(rs)
		c.receiver = NewOrderedReliableReceiver(rs)
	case TickBuffered:
		c.sender = NewTickBufferedSender()
		c.receiver = NewTickBufferedReceiver()
	default:
		c.sender = NewUnorderedUnreliableSender()
		c.receiver = NewUnorderedUnreliableReceiver()
	}
	return c
}

// Sender returns the container's sender.
func (c *Container) Sender() Sender { return c.sender }

// Receiver returns the container's receiver.
func (c *Container) Receiver() Receiver { return c.receiver }

// Enqueue queues payload for sending.
func (c *Container) Enqueue(payload []byte) error { return c.sender.Enqueue(payload) }

// DrainReady returns the units to send now.
func (c *Container) DrainReady() []packet.Unit { return c.sender.DrainReady() }

// OnAck passes an ack from the peer to the sender.
func (c *Container) OnAck(id packet.MessageID) { c.sender.OnAck(id) }

// Ingest passes a unit from the peer to the receiver. ok reports whether ack
// has to be sent back.
func (c *Container) Ingest(u packet.Unit) (ack packet.MessageID, ok bool) {
	return c.receiver.Ingest(u)
}

// Pull returns the next message ready for the application.
func (c *Container) Pull() ([]byte, bool) { return c.receiver.Pull() }

// Advance moves both sides to the given time and tick. rtt is the latest
// measured round-trip time.
func (c *Container) Advance(now time.Time, tick packet.Tick, rtt time.Duration) {
	c.sender.Advance(now, tick, rtt)
	c.receiver.Advance(tick)
}

// Outstanding returns the number of messages waiting for an ack.
func (c *Container) Outstanding() int { return c.sender.Outstanding() }
