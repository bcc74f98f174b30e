package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/relchan/internal/metrics"
	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/packet"
	"github.com/skycoin/relchan/pkg/protocol"
)

// Connection errors.
var (
	ErrUnknownChannel  = errors.New("connection: unknown channel")
	ErrWrongDirection  = errors.New("connection: channel does not carry traffic in this direction")
	ErrNoRegistry      = errors.New("connection: no message registry configured")
	ErrMessageTooLarge = errors.New("connection: message does not fit in a packet")
)

// Message is a message delivered by a channel.
type Message struct {
	Channel string
	Payload []byte

	// Value and Kind are set when the connection has a registry.
	Value interface{}
	Kind  protocol.MessageKind
}

// Stats are the counters of a connection.
type Stats struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	UnitsSent       uint64 `json:"units_sent"`
	UnitsReceived   uint64 `json:"units_received"`
	AcksSent        uint64 `json:"acks_sent"`
	AcksReceived    uint64 `json:"acks_received"`
	Delivered       uint64 `json:"delivered"`
	Dropped         uint64 `json:"dropped"`
	DecodeErrors    uint64 `json:"decode_errors"`
}

type pendingAck struct {
	chID uint16
	id   packet.MessageID
}

// Connection is one end of a set of channels. It does no I/O: packets built
// by BuildPackets are to be handed to the transport and packets read from
// the transport passed to ReceivePacket. It is not safe for concurrent use.
type Connection struct {
	ID uuid.UUID

	cfg      Config
	log      *logging.Logger
	metrics  metrics.Recorder
	channels []*channel.Container
	byName   map[string]uint16

	acks  []pendingAck
	stats Stats
}

// New creates a Connection with one container per configured channel.
func New(cfg Config) (*Connection, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	c := &Connection{
		ID:       uuid.New(),
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		channels: make([]*channel.Container, len(cfg.Channels)),
		byName:   make(map[string]uint16, len(cfg.Channels)),
	}
	for i, ch := range cfg.Channels {
		c.channels[i] = channel.Builder{Settings: ch.Settings}.Build()
		c.byName[ch.Name] = uint16(i)
	}
	return c, nil
}

// IsServer reports which side of the connection this is.
func (c *Connection) IsServer() bool { return c.cfg.IsServer }

// ChannelID returns the id of the named channel.
func (c *Connection) ChannelID(name string) (uint16, error) {
	id, ok := c.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return id, nil
}

// Send encodes msg with the registry and queues it on the named channel.
func (c *Connection) Send(name string, msg interface{}) error {
	if c.cfg.Registry == nil {
		return ErrNoRegistry
	}
	b, err := c.cfg.Registry.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendBytes(name, b)
}

// SendBytes queues a raw payload on the named channel.
func (c *Connection) SendBytes(name string, payload []byte) error {
	id, err := c.ChannelID(name)
	if err != nil {
		return err
	}
	ch := c.channels[id]
	if !ch.Settings.Direction.CanSend(c.cfg.IsServer) {
		return fmt.Errorf("%w: %q is %s", ErrWrongDirection, name, ch.Settings.Direction)
	}
	if !ch.Settings.Mode.IsReliable() && len(payload)+unitOverhead > c.cfg.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes on %q", ErrMessageTooLarge, len(payload), name)
	}
	return ch.Enqueue(payload)
}

// Advance moves every channel to the given time and tick. rtt is the latest
// round-trip estimate and drives reliable resends.
func (c *Connection) Advance(now time.Time, tick packet.Tick, rtt time.Duration) {
	for _, ch := range c.channels {
		ch.Advance(now, tick, rtt)
	}
	c.metrics.Outstanding(c.totalOutstanding())
}

// BuildPackets drains pending acks and the ready units of every channel into
// packets of at most MaxPacketSize bytes. Acks go first.
func (c *Connection) BuildPackets() ([][]byte, error) {
	var (
		packets [][]byte
		cur     []byte
	)
	add := func(f packet.Frame) {
		if len(cur) > 0 && len(cur)+len(f) > c.cfg.MaxPacketSize {
			packets = append(packets, cur)
			cur = nil
		}
		cur = append(cur, f...)
	}

	for _, a := range c.acks {
		add(packet.EncodeAck(a.chID, a.id))
	}
	c.stats.AcksSent += uint64(len(c.acks))
	c.metrics.AcksSent(len(c.acks))
	c.acks = c.acks[:0]

	for i, ch := range c.channels {
		units := ch.DrainReady()
		for _, u := range units {
			f := packet.EncodeUnit(uint16(i), u)
			if len(f) > c.cfg.MaxPacketSize {
				return nil, fmt.Errorf("%w: %d byte frame on channel %d", ErrMessageTooLarge, len(f), i)
			}
			add(f)
		}
		c.stats.UnitsSent += uint64(len(units))
		c.metrics.UnitsSent(len(units))
	}
	if len(cur) > 0 {
		packets = append(packets, cur)
	}

	for _, p := range packets {
		c.stats.PacketsSent++
		c.stats.BytesSent += uint64(len(p))
		c.metrics.PacketSent(len(p))
	}
	return packets, nil
}

// ReceivePacket routes the frames of a packet received from the peer: units
// to channel receivers, acks to channel senders. Acks owed for received
// units are sent with the next BuildPackets. Malformed frames are dropped;
// an error is returned only when the packet cannot be split into frames.
func (c *Connection) ReceivePacket(p []byte) error {
	frames, err := packet.DecodeFrames(p)
	if err != nil {
		c.stats.Dropped++
		return err
	}
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(len(p))
	c.metrics.PacketReceived(len(p))

	for _, f := range frames {
		if err := c.handleFrame(f); err != nil {
			c.stats.Dropped++
			c.log.WithError(err).Warnf("Dropping frame %s", f)
		}
	}
	return nil
}

func (c *Connection) handleFrame(f packet.Frame) error {
	chID := f.Channel()
	if int(chID) >= len(c.channels) {
		return ErrUnknownChannel
	}
	ch := c.channels[chID]

	switch f.Type() {
	case packet.AckType:
		id, err := f.Ack()
		if err != nil {
			return err
		}
		c.stats.AcksReceived++
		c.metrics.AckReceived()
		ch.OnAck(id)
		return nil

	case packet.SingleType, packet.FragmentType:
		// Units arrive on channels the peer is allowed to send on.
		if !ch.Settings.Direction.CanSend(!c.cfg.IsServer) {
			return ErrWrongDirection
		}
		u, err := f.Unit()
		if err != nil {
			return err
		}
		c.stats.UnitsReceived++
		if id, ok := ch.Ingest(u); ok {
			c.acks = append(c.acks, pendingAck{chID: chID, id: id})
		}
		return nil

	default:
		return fmt.Errorf("unknown frame type %s", f.Type())
	}
}

// Receive returns the next message ready for the application, looking at
// channels in id order. Messages that fail to decode are logged and skipped.
func (c *Connection) Receive() (Message, bool) {
	for i, ch := range c.channels {
		for {
			b, ok := ch.Pull()
			if !ok {
				break
			}
			name := c.cfg.Channels[i].Name
			msg := Message{Channel: name, Payload: b}
			if c.cfg.Registry != nil {
				v, k, err := c.cfg.Registry.Decode(b)
				if err != nil {
					c.stats.DecodeErrors++
					c.log.WithError(err).WithField("channel", name).Warn("Failed to decode message")
					continue
				}
				msg.Value, msg.Kind = v, k
			}
			c.stats.Delivered++
			c.metrics.Delivered(name)
			return msg, true
		}
	}
	return Message{}, false
}

// ReceiveAll drains every ready message.
func (c *Connection) ReceiveAll() []Message {
	var msgs []Message
	for {
		m, ok := c.Receive()
		if !ok {
			return msgs
		}
		msgs = append(msgs, m)
	}
}

// Outstanding returns the number of unacked messages on the named channel.
func (c *Connection) Outstanding(name string) (int, error) {
	id, err := c.ChannelID(name)
	if err != nil {
		return 0, err
	}
	return c.channels[id].Outstanding(), nil
}

func (c *Connection) totalOutstanding() int {
	n := 0
	for _, ch := range c.channels {
		n += ch.Outstanding()
	}
	return n
}

// PendingAcks returns the number of acks waiting for the next BuildPackets.
func (c *Connection) PendingAcks() int { return len(c.acks) }

// Stats returns a snapshot of the connection's counters.
func (c *Connection) Stats() Stats { return c.stats }
