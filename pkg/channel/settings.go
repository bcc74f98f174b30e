// Package channel implements the per-channel sender and receiver state
// machines: unordered, sequenced and ordered delivery, with or without
// retransmission, plus tick-gated delivery.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/relchan/pkg/fragment"
)

var log = logging.MustGetLogger("channel")

// ErrInvalidSettings is returned by Settings.Validate.
var ErrInvalidSettings = errors.New("channel: invalid settings")

// Mode specifies how messages of a channel are sent and received.
// See http://www.jenkinssoftware.com/raknet/manual/reliabilitytypes.html
type Mode int

const (
	// UnorderedUnreliable messages may arrive out of order, or not at all.
	UnorderedUnreliable Mode = iota
	// SequencedUnreliable is UnorderedUnreliable where only the newest
	// message is ever accepted; older ones are ignored.
	SequencedUnreliable
	// UnorderedReliable messages may arrive out of order but are retried
	// until acked.
	UnorderedReliable
	// SequencedReliable is UnorderedReliable where only messages newer than
	// the newest delivered one are accepted.
	SequencedReliable
	// OrderedReliable messages arrive in the order they were sent.
	OrderedReliable
	// TickBuffered messages are tagged with the sender's tick and only
	// delivered on that same tick.
	TickBuffered
)

var modeNames = []string{
	UnorderedUnreliable: "unordered_unreliable",
	SequencedUnreliable: "sequenced_unreliable",
	UnorderedReliable:   "unordered_reliable",
	SequencedReliable:   "sequenced_reliable",
	OrderedReliable:     "ordered_reliable",
	TickBuffered:        "tick_buffered",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// IsReliable reports whether the mode retransmits until acked.
func (m Mode) IsReliable() bool {
	switch m {
	case UnorderedReliable, SequencedReliable, OrderedReliable:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return m.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (m Mode) MarshalYAML() (interface{}, error) { return m.String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return m.parse(s)
}

func (m *Mode) parse(s string) error {
	for i, name := range modeNames {
		if name == s {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("channel: unknown mode %q", s)
}

// Direction is the direction traffic is allowed to flow on a channel. It is
// advisory: every container has both a sender and a receiver.
type Direction int

// Directions.
const (
	Bidirectional Direction = iota
	ClientToServer
	ServerToClient
)

var directionNames = []string{
	Bidirectional:  "bidirectional",
	ClientToServer: "client_to_server",
	ServerToClient: "server_to_client",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// CanSend reports whether the server (or client) side may send on a channel
// with this direction.
func (d Direction) CanSend(isServer bool) bool {
	switch d {
	case ClientToServer:
		return !isServer
	case ServerToClient:
		return isServer
	default:
		return true
	}
}

// MarshalJSON implements json.Marshaler.
func (d Direction) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Direction) MarshalYAML() (interface{}, error) { return d.String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Direction) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Direction) parse(s string) error {
	for i, name := range directionNames {
		if name == s {
			*d = Direction(i)
			return nil
		}
	}
	return fmt.Errorf("channel: unknown direction %q", s)
}

// DefaultRTTResendFactor is the default multiplier applied to the round-trip
// time to get the resend timeout.
const DefaultRTTResendFactor = 1.5

// ReliableSettings tunes the reliable modes.
type ReliableSettings struct {
	// RTTResendFactor multiplies the measured round-trip time to get the
	// delay before an unacked message is sent again.
	RTTResendFactor float64 `json:"rtt_resend_factor" yaml:"rtt_resend_factor"`

	// FragmentSize is both the shard size and the payload size at which
	// messages start being fragmented.
	FragmentSize int `json:"fragment_size" yaml:"fragment_size"`

	// MaxBuffered caps the ids a receiver holds while waiting for gaps to
	// fill, and the messages being reassembled. Units beyond the cap are
	// dropped without an ack so the peer sends them again. Zero means no cap.
	MaxBuffered int `json:"max_buffered" yaml:"max_buffered"`
}

// DefaultReliableSettings returns the default ReliableSettings.
func DefaultReliableSettings() ReliableSettings {
	return ReliableSettings{
		RTTResendFactor: DefaultRTTResendFactor,
		FragmentSize:    fragment.DefaultSize,
	}
}

func (rs ReliableSettings) withDefaults() ReliableSettings {
	if rs.RTTResendFactor <= 0 {
		rs.RTTResendFactor = DefaultRTTResendFactor
	}
	if rs.FragmentSize <= 0 {
		rs.FragmentSize = fragment.DefaultSize
	}
	return rs
}

// Settings describes one channel.
type Settings struct {
	Mode      Mode             `json:"mode" yaml:"mode"`
	Direction Direction        `json:"direction" yaml:"direction"`
	Reliable  ReliableSettings `json:"reliable" yaml:"reliable"`
}

// WithDefaults returns s with unset reliable settings replaced by their
// defaults. Settings of unreliable modes are returned as is.
func (s Settings) WithDefaults() Settings {
	if s.Mode.IsReliable() {
		s.Reliable = s.Reliable.withDefaults()
	}
	return s
}

// Validate checks the settings for configuration errors.
func (s Settings) Validate() error {
	if s.Mode < UnorderedUnreliable || s.Mode > TickBuffered {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, s.Mode)
	}
	if s.Direction < Bidirectional || s.Direction > ServerToClient {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, s.Direction)
	}
	if !s.Mode.IsReliable() {
		return nil
	}
	if s.Reliable.RTTResendFactor <= 0 {
		return fmt.Errorf("%w: rtt_resend_factor must be positive", ErrInvalidSettings)
	}
	if s.Reliable.FragmentSize <= 0 {
		return fmt.Errorf("%w: fragment_size must be positive", ErrInvalidSettings)
	}
	if s.Reliable.MaxBuffered < 0 {
		return fmt.Errorf("%w: max_buffered must not be negative", ErrInvalidSettings)
	}
	return nil
}

// Named pairs a channel name with its settings.
type Named struct {
	Name     string   `json:"name" yaml:"name"`
	Settings Settings `json:"settings" yaml:"settings"`
}

// Default channel names.
const (
	EntityUpdates = "entity_updates"
	Ping          = "ping"
	Input         = "input"
	Default       = "default"
)

// DefaultChannels returns the channels every connection is expected to have:
// reliable ordered entity updates, sequenced pings (only the newest ping
// matters), tick-buffered client inputs and a fire-and-forget channel.
// Pings and inputs stay on separate channels so a newer ping never makes the
// receiver discard an input.
func DefaultChannels() []Named {
	return []Named{
		{Name: EntityUpdates, Settings: Settings{
			Mode:      OrderedReliable,
			Direction: ServerToClient,
			Reliable:  DefaultReliableSettings(),
		}},
		{Name: Ping, Settings: Settings{Mode: SequencedUnreliable, Direction: Bidirectional}},
		{Name: Input, Settings: Settings{Mode: TickBuffered, Direction: ClientToServer}},
		{Name: Default, Settings: Settings{Mode: UnorderedUnreliable, Direction: Bidirectional}},
	}
}
