package sim

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/relchan/internal/metrics"
	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/connection"
	"github.com/skycoin/relchan/pkg/netsim"
	"github.com/skycoin/relchan/pkg/packet"
	"github.com/skycoin/relchan/pkg/protocol"
)

// Option configures a Run.
type Option func(o *options)

type options struct {
	srvMetrics metrics.Recorder
	cliMetrics metrics.Recorder
	store      connection.LogStore
}

// WithMetrics records the server and client connections' metrics.
func WithMetrics(srv, cli metrics.Recorder) Option {
	return func(o *options) {
		o.srvMetrics, o.cliMetrics = srv, cli
	}
}

// WithLogStore records the final stats of both connections into store.
func WithLogStore(store connection.LogStore) Option {
	return func(o *options) {
		o.store = store
	}
}

type streamKey struct {
	ch         int
	fromServer bool
}

type stream struct {
	sent, sendErrors int
	delivered        int
	duplicates       int
	outOfOrder       int
	tickMismatches   int
	corrupted        int

	seen    map[uint32]struct{}
	last    uint32
	hasLast bool
}

type runner struct {
	cfg Config
	log *logging.Logger

	srv, cli *connection.Connection
	up, down *netsim.Link // up carries client to server packets

	streams map[streamKey]*stream
}

// NewRegistry returns the registry of the messages a run sends.
func NewRegistry(compressAbove int) (*protocol.Registry, error) {
	reg := protocol.NewRegistry()
	for _, msg := range []interface{}{Sample{}, Probe{}} {
		if err := reg.Register(msg); err != nil {
			return nil, err
		}
	}
	if err := reg.Build(); err != nil {
		return nil, err
	}
	reg.SetCompressionThreshold(compressAbove)
	return reg, nil
}

// Run simulates cfg.Ticks ticks of traffic plus cfg.DrainTicks ticks to let
// reliable channels settle, and reports what every channel delivered.
func Run(cfg Config, mLog *logging.MasterLogger, opts ...Option) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	o := options{srvMetrics: metrics.NewDummy(), cliMetrics: metrics.NewDummy()}
	for _, opt := range opts {
		opt(&o)
	}
	if mLog == nil {
		mLog = logging.NewMasterLogger()
	}

	reg, err := NewRegistry(cfg.CompressAbove)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build registry")
	}

	newConn := func(isServer bool, name string, m metrics.Recorder) (*connection.Connection, error) {
		return connection.New(connection.Config{
			Channels:      cfg.Channels,
			IsServer:      isServer,
			MaxPacketSize: cfg.MaxPacketSize,
			Registry:      reg,
			Logger:        mLog.PackageLogger(name),
			Metrics:       m,
		})
	}
	srv, err := newConn(true, "server", o.srvMetrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server connection")
	}
	cli, err := newConn(false, "client", o.cliMetrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client connection")
	}

	downCfg := cfg.Link
	downCfg.Seed++
	r := &runner{
		cfg:     cfg,
		log:     mLog.PackageLogger("sim"),
		srv:     srv,
		cli:     cli,
		up:      netsim.NewLink(cfg.Link),
		down:    netsim.NewLink(downCfg),
		streams: make(map[streamKey]*stream),
	}
	r.log.WithField("server", srv.ID).WithField("client", cli.ID).
		Infof("Running %d ticks over %d channels", cfg.Ticks, len(cfg.Channels))

	if err := r.run(); err != nil {
		return nil, err
	}

	rep := r.report()
	fp, err := reg.Fingerprint()
	if err != nil {
		return nil, err
	}
	rep.Fingerprint = hex.EncodeToString(fp[:])

	if o.store != nil {
		if err := o.store.Record(srv.ID, srv.Entry()); err != nil {
			return nil, errors.Wrap(err, "failed to record server stats")
		}
		if err := o.store.Record(cli.ID, cli.Entry()); err != nil {
			return nil, errors.Wrap(err, "failed to record client stats")
		}
	}
	return rep, nil
}

func (r *runner) run() error {
	start := time.Unix(0, 0)
	tickDur := time.Duration(r.cfg.TickDuration)
	rtt := time.Duration(r.cfg.RTT)

	for step := 0; step < r.cfg.Ticks+r.cfg.DrainTicks; step++ {
		now := start.Add(time.Duration(step) * tickDur)
		srvTick := packet.Tick(step)
		cliTick := packet.Tick(step + r.cfg.ClientTickLead)
		r.srv.Advance(now, srvTick, rtt)
		r.cli.Advance(now, cliTick, rtt)

		if step < r.cfg.Ticks {
			for i := range r.cfg.Channels {
				r.send(r.srv, i, step, srvTick)
				r.send(r.cli, i, step, cliTick)
			}
		}

		if err := transmit(r.srv, r.down); err != nil {
			return errors.Wrap(err, "server")
		}
		if err := transmit(r.cli, r.up); err != nil {
			return errors.Wrap(err, "client")
		}
		r.receive(r.srv, r.up, srvTick)
		r.receive(r.cli, r.down, cliTick)
	}
	return nil
}

func transmit(conn *connection.Connection, link *netsim.Link) error {
	pkts, err := conn.BuildPackets()
	if err != nil {
		return err
	}
	for _, p := range pkts {
		link.Send(p)
	}
	return nil
}

func (r *runner) stream(key streamKey) *stream {
	st, ok := r.streams[key]
	if !ok {
		st = &stream{seen: make(map[uint32]struct{})}
		r.streams[key] = st
	}
	return st
}

func (r *runner) send(conn *connection.Connection, i, step int, tick packet.Tick) {
	named := r.cfg.Channels[i]
	if !named.Settings.Direction.CanSend(conn.IsServer()) {
		return
	}
	st := r.stream(streamKey{ch: i, fromServer: conn.IsServer()})
	seq := uint32(st.sent)

	var msg interface{}
	if named.Settings.Mode == channel.SequencedUnreliable {
		msg = Probe{FromServer: conn.IsServer(), Seq: seq, Tick: uint16(tick)}
	} else {
		s := Sample{FromServer: conn.IsServer(), Seq: seq, Tick: uint16(tick)}
		if named.Settings.Mode.IsReliable() && r.cfg.LargeEvery > 0 && step%r.cfg.LargeEvery == 0 {
			s.Pad = pad(r.cfg.LargeSize, seq)
		}
		msg = s
	}

	if err := conn.Send(named.Name, msg); err != nil {
		st.sendErrors++
		r.log.WithError(err).WithField("channel", named.Name).Warn("Failed to send")
		return
	}
	st.sent++
}

func (r *runner) receive(conn *connection.Connection, link *netsim.Link, tick packet.Tick) {
	for _, p := range link.Advance() {
		if err := conn.ReceivePacket(p); err != nil {
			r.log.WithError(err).Warn("Failed to receive packet")
		}
	}
	for _, m := range conn.ReceiveAll() {
		r.deliver(conn, m, tick)
	}
}

func (r *runner) deliver(conn *connection.Connection, m connection.Message, tick packet.Tick) {
	id, err := conn.ChannelID(m.Channel)
	if err != nil {
		return
	}

	var (
		fromServer bool
		seq        uint32
		msgTick    uint16
		intact     = true
	)
	switch v := m.Value.(type) {
	case Sample:
		fromServer, seq, msgTick = v.FromServer, v.Seq, v.Tick
		if len(v.Pad) > 0 {
			intact = bytes.Equal(v.Pad, pad(len(v.Pad), v.Seq))
		}
	case Probe:
		fromServer, seq, msgTick = v.FromServer, v.Seq, v.Tick
	default:
		r.log.Warnf("Unexpected message %T on %s", m.Value, m.Channel)
		return
	}

	st := r.stream(streamKey{ch: int(id), fromServer: fromServer})
	if !intact {
		st.corrupted++
	}
	if _, dup := st.seen[seq]; dup {
		st.duplicates++
		return
	}
	st.seen[seq] = struct{}{}
	st.delivered++

	if st.hasLast && seq < st.last {
		st.outOfOrder++
	} else {
		st.last, st.hasLast = seq, true
	}
	if r.cfg.Channels[id].Settings.Mode == channel.TickBuffered && packet.Tick(msgTick) != tick {
		st.tickMismatches++
	}
}

func (r *runner) report() *Report {
	rep := &Report{
		ServerID: r.srv.ID,
		ClientID: r.cli.ID,
		Ticks:    r.cfg.Ticks,
		Server:   r.srv.Stats(),
		Client:   r.cli.Stats(),
		Uplink:   r.up.Stats(),
		Downlink: r.down.Stats(),
	}
	for i, named := range r.cfg.Channels {
		cr := ChannelReport{
			Name:      named.Name,
			Mode:      named.Settings.Mode,
			Direction: named.Settings.Direction,
		}
		for _, fromServer := range []bool{true, false} {
			st, ok := r.streams[streamKey{ch: i, fromServer: fromServer}]
			if !ok {
				continue
			}
			cr.Sent += st.sent
			cr.SendErrors += st.sendErrors
			cr.Delivered += st.delivered
			cr.Duplicates += st.duplicates
			cr.OutOfOrder += st.outOfOrder
			cr.TickMismatches += st.tickMismatches
			cr.Corrupted += st.corrupted
		}
		for _, conn := range []*connection.Connection{r.srv, r.cli} {
			n, _ := conn.Outstanding(named.Name)
			cr.Outstanding += n
		}
		rep.Channels = append(rep.Channels, cr)
	}
	return rep
}
