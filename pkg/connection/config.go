// Package connection multiplexes a set of channels over one datagram path.
// It packs channel units and acks into packets and routes incoming packets
// back to the right channel.
package connection

import (
	"errors"
	"fmt"
	"math"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/relchan/internal/metrics"
	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/protocol"
)

// DefaultMaxPacketSize is the default upper bound for packets returned by
// BuildPackets.
const DefaultMaxPacketSize = 1400

// unitOverhead is the most framing a unit adds to its bytes: the frame header
// plus the protowire tags and varints of a fragment body.
const unitOverhead = 18

// Config errors.
var (
	ErrNoChannels       = errors.New("connection: no channels configured")
	ErrTooManyChannels  = errors.New("connection: too many channels")
	ErrDuplicateChannel = errors.New("connection: duplicate channel name")
	ErrPacketTooSmall   = errors.New("connection: max packet size too small for fragment size")
)

// Config configures a Connection.
type Config struct {
	// Channels are the channels of the connection; a channel's id is its
	// index. Both peers have to use the same list.
	Channels []channel.Named

	// IsServer selects which side of the channel directions this end is.
	IsServer bool

	// MaxPacketSize bounds the packets returned by BuildPackets. Defaults to
	// DefaultMaxPacketSize.
	MaxPacketSize int

	// Registry encodes and decodes messages. When nil, only raw payloads can
	// be sent.
	Registry *protocol.Registry

	Logger  *logging.Logger
	Metrics metrics.Recorder
}

// DefaultConfig returns a Config using the default channels.
func DefaultConfig(isServer bool, reg *protocol.Registry) Config {
	return Config{
		Channels:      channel.DefaultChannels(),
		IsServer:      isServer,
		MaxPacketSize: DefaultMaxPacketSize,
		Registry:      reg,
	}
}

func (c *Config) check() error {
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}
	if len(c.Channels) > math.MaxUint16+1 {
		return ErrTooManyChannels
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.MaxPacketSize > math.MaxUint16 {
		c.MaxPacketSize = math.MaxUint16
	}
	if c.Logger == nil {
		c.Logger = logging.MustGetLogger("connection")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewDummy()
	}

	names := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if _, ok := names[ch.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateChannel, ch.Name)
		}
		names[ch.Name] = struct{}{}

		if err := ch.Settings.Validate(); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		if ch.Settings.Mode.IsReliable() && ch.Settings.Reliable.FragmentSize+unitOverhead > c.MaxPacketSize {
			return fmt.Errorf("%w: channel %q", ErrPacketTooSmall, ch.Name)
		}
	}
	return nil
}
