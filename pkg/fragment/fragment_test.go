package fragment

import (
	"bytes"
	"math/rand"
	"os"
	"testing"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/relchan/internal/testhelpers"
	"github.com/skycoin/relchan/pkg/packet"
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

func TestSender_BuildFragments(t *testing.T) {
	s := NewSender(DefaultSize)
	b := testhelpers.RandBytes(DefaultSize*2 + DefaultSize/2)

	frags, err := s.BuildFragments(0, b)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	assert.Equal(t, packet.FragmentData{
		MessageID: 0, FragmentID: 0, NumFragments: 3, Bytes: b[:DefaultSize],
	}, frags[0])
	assert.Equal(t, packet.FragmentData{
		MessageID: 0, FragmentID: 1, NumFragments: 3, Bytes: b[DefaultSize : 2*DefaultSize],
	}, frags[1])
	assert.Equal(t, packet.FragmentData{
		MessageID: 0, FragmentID: 2, NumFragments: 3, Bytes: b[2*DefaultSize:],
	}, frags[2])
}

func TestSender_BuildFragments_Sizes(t *testing.T) {
	cases := []struct {
		size, n  int
		num      int
		lastSize int
	}{
		{1200, 6500, 6, 500},
		{1200, 1200, 1, 1200},
		{1200, 2400, 2, 1200},
		{100, 25500, 255, 100},
		{7, 100, 15, 2},
	}
	for _, c := range cases {
		s := NewSender(c.size)
		frags, err := s.BuildFragments(12, testhelpers.RandBytes(c.n))
		require.NoError(t, err)
		require.Len(t, frags, c.num)
		assert.Len(t, frags[len(frags)-1].Bytes, c.lastSize)
		for i, f := range frags {
			assert.Equal(t, uint8(i), f.FragmentID)
			assert.Equal(t, uint8(c.num), f.NumFragments)
			assert.Equal(t, packet.MessageID(12), f.MessageID)
		}
	}
}

func TestSender_BuildFragments_Errors(t *testing.T) {
	s := NewSender(100)

	assert.Panics(t, func() { s.BuildFragments(0, testhelpers.RandBytes(99)) }) // nolint: errcheck

	_, err := s.BuildFragments(0, testhelpers.RandBytes(25501))
	assert.Equal(t, ErrTooManyFragments, err)

	assert.True(t, s.NeedsFragmentation(100))
	assert.False(t, s.NeedsFragmentation(99))
	assert.Equal(t, DefaultSize, NewSender(0).Size)
}

func TestReceiver_ReverseOrder(t *testing.T) {
	b := testhelpers.RandBytes(6500)
	frags, err := NewSender(1200).BuildFragments(3, b)
	require.NoError(t, err)
	require.Len(t, frags, 6)
	for _, f := range frags[:5] {
		assert.Len(t, f.Bytes, 1200)
	}
	assert.Len(t, frags[5].Bytes, 500)

	r := NewReceiver()
	for i := len(frags) - 1; i > 0; i-- {
		_, ok := r.Receive(frags[i])
		assert.False(t, ok)
	}
	assert.Equal(t, 1, r.Pending())

	out, ok := r.Receive(frags[0])
	require.True(t, ok)
	assert.True(t, bytes.Equal(b, out))
	assert.Equal(t, 0, r.Pending())
}

func TestReceiver_Shuffled(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for size := 1; size <= 64; size *= 2 {
		for n := size; n < size*20; n += size/2 + 3 {
			b := testhelpers.RandBytes(n)
			frags, err := NewSender(size).BuildFragments(packet.MessageID(n), b)
			require.NoError(t, err)
			assert.Len(t, frags, (n+size-1)/size)

			rnd.Shuffle(len(frags), func(i, j int) { frags[i], frags[j] = frags[j], frags[i] })
			r := NewReceiver()
			var out []byte
			for i, f := range frags {
				got, ok := r.Receive(f)
				assert.Equal(t, i == len(frags)-1, ok)
				if ok {
					out = got
				}
			}
			assert.Equal(t, b, out, "size=%d n=%d", size, n)
		}
	}
}

func TestReceiver_Duplicates(t *testing.T) {
	b := testhelpers.RandBytes(250)
	frags, err := NewSender(100).BuildFragments(1, b)
	require.NoError(t, err)

	r := NewReceiver()
	_, ok := r.Receive(frags[1])
	assert.False(t, ok)
	_, ok = r.Receive(frags[1])
	assert.False(t, ok)
	_, ok = r.Receive(frags[0])
	assert.False(t, ok)
	out, ok := r.Receive(frags[2])
	require.True(t, ok)
	assert.Equal(t, b, out)
}

func TestReceiver_Malformed(t *testing.T) {
	r := NewReceiver()

	_, ok := r.Receive(packet.FragmentData{MessageID: 1, FragmentID: 0, NumFragments: 0})
	assert.False(t, ok)
	_, ok = r.Receive(packet.FragmentData{MessageID: 1, FragmentID: 3, NumFragments: 3})
	assert.False(t, ok)
	assert.Equal(t, 0, r.Pending())

	// A shard count that disagrees with the first shard seen never completes.
	_, ok = r.Receive(packet.FragmentData{MessageID: 2, FragmentID: 0, NumFragments: 2, Bytes: []byte("a")})
	assert.False(t, ok)
	_, ok = r.Receive(packet.FragmentData{MessageID: 2, FragmentID: 0, NumFragments: 1, Bytes: []byte("b")})
	assert.False(t, ok)
	assert.True(t, r.Has(2))

	r.Discard(2)
	assert.False(t, r.Has(2))
}
