package connection_test

import (
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/skycoin/relchan/internal/testhelpers"
	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/connection"
	"github.com/skycoin/relchan/pkg/packet"
	"github.com/skycoin/relchan/pkg/protocol"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

type EntityUpdate struct {
	ID   uint32
	X, Y float64
	Blob []byte `json:",omitempty"`
}

type PlayerInput struct {
	Keys uint8
}

type Ping struct {
	Seq uint32
}

func newRegistry(t *testing.T) *protocol.Registry {
	reg := protocol.NewRegistry()
	require.NoError(t, reg.Register(EntityUpdate{}))
	require.NoError(t, reg.Register(PlayerInput{}))
	require.NoError(t, reg.Register(Ping{}))
	require.NoError(t, reg.Build())
	return reg
}

func newPair(t *testing.T) (srv, cli *connection.Connection) {
	reg := newRegistry(t)
	srv, err := connection.New(connection.DefaultConfig(true, reg))
	require.NoError(t, err)
	cli, err = connection.New(connection.DefaultConfig(false, reg))
	require.NoError(t, err)
	return srv, cli
}

// pump moves every packet from one side to the other and returns how many
// there were.
func pump(t *testing.T, from, to *connection.Connection) int {
	pkts, err := from.BuildPackets()
	require.NoError(t, err)
	for _, p := range pkts {
		require.NoError(t, to.ReceivePacket(p))
	}
	return len(pkts)
}

func TestNew_Config(t *testing.T) {
	_, err := connection.New(connection.Config{})
	assert.Equal(t, connection.ErrNoChannels, err)

	dup := []channel.Named{
		{Name: "a", Settings: channel.Settings{Mode: channel.UnorderedUnreliable}},
		{Name: "a", Settings: channel.Settings{Mode: channel.SequencedUnreliable}},
	}
	_, err = connection.New(connection.Config{Channels: dup})
	assert.True(t, errors.Is(err, connection.ErrDuplicateChannel))

	big := channel.DefaultReliableSettings()
	big.FragmentSize = 1390
	_, err = connection.New(connection.Config{Channels: []channel.Named{
		{Name: "a", Settings: channel.Settings{Mode: channel.OrderedReliable, Reliable: big}},
	}})
	assert.True(t, errors.Is(err, connection.ErrPacketTooSmall))

	_, err = connection.New(connection.Config{Channels: []channel.Named{
		{Name: "a", Settings: channel.Settings{Mode: channel.OrderedReliable}},
	}})
	assert.True(t, errors.Is(err, channel.ErrInvalidSettings))
}

func TestConnection_SendChecks(t *testing.T) {
	srv, cli := newPair(t)

	err := cli.Send(channel.EntityUpdates, EntityUpdate{ID: 1})
	assert.True(t, errors.Is(err, connection.ErrWrongDirection))

	err = srv.Send(channel.Input, PlayerInput{Keys: 1})
	assert.True(t, errors.Is(err, connection.ErrWrongDirection))

	err = srv.Send("nope", Ping{})
	assert.True(t, errors.Is(err, connection.ErrUnknownChannel))

	err = srv.Send(channel.Ping, struct{ A int }{})
	assert.True(t, errors.Is(err, protocol.ErrNotRegistered))

	err = srv.SendBytes(channel.Default, make([]byte, connection.DefaultMaxPacketSize))
	assert.True(t, errors.Is(err, connection.ErrMessageTooLarge))

	raw, err := connection.New(connection.Config{Channels: channel.DefaultChannels()})
	require.NoError(t, err)
	assert.Equal(t, connection.ErrNoRegistry, raw.Send(channel.Default, Ping{}))
}

func TestConnection_RoundTrip(t *testing.T) {
	srv, cli := newPair(t)
	now := time.Unix(0, 0)
	srv.Advance(now, 0, 100*time.Millisecond)
	cli.Advance(now, 0, 100*time.Millisecond)

	require.NoError(t, srv.Send(channel.EntityUpdates, EntityUpdate{ID: 7, X: 1.5}))
	require.NoError(t, srv.Send(channel.Ping, Ping{Seq: 1}))
	require.NoError(t, cli.Send(channel.Ping, Ping{Seq: 2}))
	require.NoError(t, cli.Send(channel.Default, Ping{Seq: 3}))

	srvPkts, err := srv.BuildPackets()
	require.NoError(t, err)
	cliPkts, err := cli.BuildPackets()
	require.NoError(t, err)
	require.Len(t, srvPkts, 1)
	require.Len(t, cliPkts, 1)
	require.NoError(t, cli.ReceivePacket(srvPkts[0]))
	require.NoError(t, srv.ReceivePacket(cliPkts[0]))

	msgs := cli.ReceiveAll()
	require.Len(t, msgs, 2)
	assert.Equal(t, channel.EntityUpdates, msgs[0].Channel)
	assert.Equal(t, EntityUpdate{ID: 7, X: 1.5}, msgs[0].Value)
	assert.Equal(t, channel.Ping, msgs[1].Channel)
	assert.Equal(t, Ping{Seq: 1}, msgs[1].Value)

	msgs = srv.ReceiveAll()
	require.Len(t, msgs, 2)
	assert.Equal(t, Ping{Seq: 2}, msgs[0].Value)
	assert.Equal(t, Ping{Seq: 3}, msgs[1].Value)

	// The entity update is acked by the client's next packet.
	assert.Equal(t, 1, cli.PendingAcks())
	n, err := srv.Outstanding(channel.EntityUpdates)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, pump(t, cli, srv))
	n, err = srv.Outstanding(channel.EntityUpdates)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st := srv.Stats()
	assert.Equal(t, uint64(2), st.PacketsReceived)
	assert.Equal(t, uint64(1), st.AcksReceived)
	assert.Equal(t, uint64(2), st.Delivered)
	assert.Equal(t, uint64(1), cli.Stats().AcksSent)
}

func TestConnection_ResendAfterLoss(t *testing.T) {
	srv, cli := newPair(t)
	now := time.Unix(0, 0)
	rtt := 100 * time.Millisecond
	advance := func(d time.Duration) {
		now = now.Add(d)
		srv.Advance(now, 0, rtt)
		cli.Advance(now, 0, rtt)
	}
	advance(0)

	require.NoError(t, srv.Send(channel.EntityUpdates, EntityUpdate{ID: 1}))
	lost, err := srv.BuildPackets()
	require.NoError(t, err)
	require.Len(t, lost, 1)

	advance(50 * time.Millisecond)
	assert.Equal(t, 0, pump(t, srv, cli))

	advance(110 * time.Millisecond)
	assert.Equal(t, 1, pump(t, srv, cli))

	msgs := cli.ReceiveAll()
	require.Len(t, msgs, 1)
	assert.Equal(t, EntityUpdate{ID: 1}, msgs[0].Value)

	// The stale copy arrives late: acked again, not delivered again.
	require.NoError(t, cli.ReceivePacket(lost[0]))
	assert.Empty(t, cli.ReceiveAll())
	assert.Equal(t, 2, cli.PendingAcks())

	pump(t, cli, srv)
	n, err := srv.Outstanding(channel.EntityUpdates)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	advance(time.Second)
	assert.Equal(t, 0, pump(t, srv, cli))
}

func TestConnection_Fragmentation(t *testing.T) {
	srv, cli := newPair(t)
	srv.Advance(time.Unix(0, 0), 0, 100*time.Millisecond)

	want := EntityUpdate{ID: 3, Blob: testhelpers.RandBytes(5000)}
	require.NoError(t, srv.Send(channel.EntityUpdates, want))

	pkts, err := srv.BuildPackets()
	require.NoError(t, err)
	require.True(t, len(pkts) > 1)

	// Deliver in reverse order.
	for i := len(pkts) - 1; i >= 0; i-- {
		assert.True(t, len(pkts[i]) <= connection.DefaultMaxPacketSize)
		require.NoError(t, cli.ReceivePacket(pkts[i]))
	}

	msgs := cli.ReceiveAll()
	require.Len(t, msgs, 1)
	assert.Equal(t, want, msgs[0].Value)
	assert.Equal(t, 1, cli.PendingAcks())
}

func TestConnection_PacksIntoPackets(t *testing.T) {
	srv, cli := newPair(t)

	payload := make([]byte, 100)
	for i := 0; i < 50; i++ {
		payload[0] = byte(i)
		require.NoError(t, srv.SendBytes(channel.Default, append([]byte(nil), payload...)))
	}

	pkts, err := srv.BuildPackets()
	require.NoError(t, err)
	require.True(t, len(pkts) > 1)
	for _, p := range pkts {
		assert.True(t, len(p) <= connection.DefaultMaxPacketSize)
		require.NoError(t, cli.ReceivePacket(p))
	}

	raw := cli.Stats()
	assert.Equal(t, uint64(50), raw.UnitsReceived)

	// Raw payloads are not registered messages.
	msgs := cli.ReceiveAll()
	assert.Empty(t, msgs)
	assert.Equal(t, uint64(50), cli.Stats().DecodeErrors)
}

func TestConnection_TickBufferedInput(t *testing.T) {
	srv, cli := newPair(t)
	now := time.Unix(0, 0)

	cli.Advance(now, 5, 0)
	srv.Advance(now, 5, 0)
	require.NoError(t, cli.Send(channel.Input, PlayerInput{Keys: 1}))
	pump(t, cli, srv)

	msgs := srv.ReceiveAll()
	require.Len(t, msgs, 1)
	assert.Equal(t, channel.Input, msgs[0].Channel)
	assert.Equal(t, PlayerInput{Keys: 1}, msgs[0].Value)
	assert.Equal(t, 0, srv.PendingAcks())

	// Input for tick 6 arriving when the server is at tick 7 is dropped.
	cli.Advance(now, 6, 0)
	require.NoError(t, cli.Send(channel.Input, PlayerInput{Keys: 2}))
	srv.Advance(now, 7, 0)
	pump(t, cli, srv)
	assert.Empty(t, srv.ReceiveAll())

	// Input for a future tick waits for it.
	cli.Advance(now, 9, 0)
	require.NoError(t, cli.Send(channel.Input, PlayerInput{Keys: 3}))
	pump(t, cli, srv)
	assert.Empty(t, srv.ReceiveAll())
	srv.Advance(now, 8, 0)
	assert.Empty(t, srv.ReceiveAll())
	srv.Advance(now, 9, 0)
	msgs = srv.ReceiveAll()
	require.Len(t, msgs, 1)
	assert.Equal(t, PlayerInput{Keys: 3}, msgs[0].Value)
}

func TestConnection_ReceiveMalformed(t *testing.T) {
	srv, cli := newPair(t)

	assert.Equal(t, packet.ErrShortFrame, cli.ReceivePacket([]byte{byte(packet.SingleType), 0}))
	assert.Equal(t, uint64(1), cli.Stats().Dropped)

	// Unknown channel.
	require.NoError(t, cli.ReceivePacket(packet.EncodeAck(99, 1)))
	assert.Equal(t, uint64(2), cli.Stats().Dropped)

	// The server never sends on the input channel.
	inputID, err := cli.ChannelID(channel.Input)
	require.NoError(t, err)
	tick := packet.Tick(0)
	require.NoError(t, cli.ReceivePacket(packet.EncodeUnit(inputID, packet.SingleData{Tick: &tick, Bytes: []byte{1}})))
	assert.Equal(t, uint64(3), cli.Stats().Dropped)

	// Unknown frame type.
	require.NoError(t, srv.ReceivePacket(packet.MakeFrame(0x7f, 0, nil)))
	assert.Equal(t, uint64(1), srv.Stats().Dropped)
}

func TestConnection_FragmentCountOutOfRange(t *testing.T) {
	_, cli := newPair(t)
	chID, err := cli.ChannelID(channel.EntityUpdates)
	require.NoError(t, err)

	// A count of 257 would read as 1 if narrowed to a byte.
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 0)
	body = protowire.AppendTag(body, 2, protowire.VarintType)
	body = protowire.AppendVarint(body, 0)
	body = protowire.AppendTag(body, 3, protowire.VarintType)
	body = protowire.AppendVarint(body, 257)
	body = protowire.AppendTag(body, 4, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("partial"))

	require.NoError(t, cli.ReceivePacket(packet.MakeFrame(packet.FragmentType, chID, body)))
	assert.Equal(t, uint64(1), cli.Stats().Dropped)
	assert.Zero(t, cli.Stats().UnitsReceived)
	assert.Zero(t, cli.PendingAcks())
	assert.Empty(t, cli.ReceiveAll())
}
