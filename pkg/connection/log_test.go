package connection_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/relchan/internal/testhelpers"
	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/connection"
)

func testLogStore(t *testing.T, logStore connection.LogStore) {
	t.Helper()

	srv, cli := newPair(t)
	require.NoError(t, srv.Send(channel.EntityUpdates, EntityUpdate{ID: 1}))
	pump(t, srv, cli)
	cli.ReceiveAll()

	testhelpers.NoErrorN(t,
		logStore.Record(srv.ID, srv.Entry()),
		logStore.Record(cli.ID, cli.Entry()),
	)

	entry, err := logStore.Entry(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Stats.PacketsSent)
	assert.Equal(t, 1, entry.Channels[channel.EntityUpdates])

	entry, err = logStore.Entry(cli.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Stats.Delivered)

	// Recording again replaces the entry.
	pump(t, cli, srv)
	require.NoError(t, logStore.Record(srv.ID, srv.Entry()))
	entry, err = logStore.Entry(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Channels[channel.EntityUpdates])
	assert.Equal(t, uint64(1), entry.Stats.AcksReceived)

	_, err = logStore.Entry(uuid.New())
	assert.Equal(t, connection.ErrEntryNotFound, err)
}

func TestInMemoryLogStore(t *testing.T) {
	testLogStore(t, connection.InMemoryLogStore())
}

func TestFileLogStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "log_store")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	testLogStore(t, connection.FileLogStore(dir))
}

func TestBoltDBLogStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "bolt_log_store")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	store, err := connection.NewBoltDBLogStore(filepath.Join(dir, "stats.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	testLogStore(t, store)

	ids, err := store.IDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
