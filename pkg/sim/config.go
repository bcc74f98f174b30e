// Package sim runs a client and a server connection against each other over
// simulated lossy links and reports what each channel delivered.
package sim

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/connection"
	"github.com/skycoin/relchan/pkg/netsim"
)

// Config configures a simulation run.
type Config struct {
	// Ticks is the number of ticks on which messages are sent.
	Ticks int `json:"ticks" yaml:"ticks"`
	// DrainTicks are extra ticks without new messages so reliable channels
	// can catch up.
	DrainTicks   int      `json:"drain_ticks" yaml:"drain_ticks"`
	TickDuration Duration `json:"tick_duration" yaml:"tick_duration"` // examples: 16ms, 50ms
	RTT          Duration `json:"rtt" yaml:"rtt"`
	// ClientTickLead is how many ticks the client runs ahead of the server,
	// so its tick-buffered input reaches the server before the tick it is
	// meant for.
	ClientTickLead int `json:"client_tick_lead" yaml:"client_tick_lead"`

	MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`
	// LargeEvery makes reliable channels send a message of LargeSize bytes
	// every LargeEvery ticks, so that it gets fragmented.
	LargeEvery int `json:"large_every" yaml:"large_every"`
	LargeSize  int `json:"large_size" yaml:"large_size"`
	// CompressAbove is the message size at which bodies are compressed.
	// Zero disables compression.
	CompressAbove int `json:"compress_above" yaml:"compress_above"`

	Link     netsim.LinkConfig `json:"link" yaml:"link"`
	Channels []channel.Named   `json:"channels" yaml:"channels"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns a Config running the default channels over a link
// with some loss, duplication and reordering.
func DefaultConfig() Config {
	return Config{
		Ticks:          600,
		DrainTicks:     120,
		TickDuration:   Duration(16 * time.Millisecond),
		RTT:            Duration(50 * time.Millisecond),
		ClientTickLead: 3,
		MaxPacketSize:  connection.DefaultMaxPacketSize,
		LargeEvery:     60,
		LargeSize:      4000,
		Link: netsim.LinkConfig{
			Loss:      0.1,
			Duplicate: 0.02,
			MaxDelay:  3,
			Seed:      1,
		},
		Channels: channel.DefaultChannels(),
		LogLevel: "info",
	}
}

// Validate checks the config for errors that would make the run meaningless.
func (c *Config) Validate() error {
	switch {
	case c.Ticks <= 0:
		return errors.New("ticks must be positive")
	case c.DrainTicks < 0:
		return errors.New("drain_ticks must not be negative")
	case c.TickDuration <= 0:
		return errors.New("tick_duration must be positive")
	case c.RTT < 0:
		return errors.New("rtt must not be negative")
	case c.ClientTickLead < 0:
		return errors.New("client_tick_lead must not be negative")
	case c.Link.Loss < 0 || c.Link.Loss >= 1:
		return errors.New("link.loss must be in [0, 1)")
	case c.Link.Duplicate < 0 || c.Link.Duplicate > 1:
		return errors.New("link.duplicate must be in [0, 1]")
	case len(c.Channels) == 0:
		return errors.New("no channels")
	}
	return nil
}

// Load reads a Config from a JSON or YAML file, picked by extension. Fields
// missing from the file keep their DefaultConfig values.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	cfg := DefaultConfig()
	cfg.Channels = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = channel.DefaultChannels()
	}
	for i := range cfg.Channels {
		cfg.Channels[i].Settings = cfg.Channels[i].Settings.WithDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return &cfg, nil
}

// Duration wraps around time.Duration to allow parsing from and to JSON and
// YAML.
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		return d.parse(value)
	default:
		return errors.New("invalid duration")
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	tmp, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(tmp)
	return nil
}
