// Package netsim simulates an unreliable datagram link on a step clock.
package netsim

import (
	"math/rand"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("netsim")

// LinkConfig describes the faults of a Link.
type LinkConfig struct {
	// Loss is the probability a packet is dropped.
	Loss float64 `json:"loss" yaml:"loss"`
	// Duplicate is the probability a packet is delivered twice.
	Duplicate float64 `json:"duplicate" yaml:"duplicate"`
	// MaxDelay is the largest number of steps a packet is held back. Each
	// copy gets its own delay, so packets are reordered when it is positive.
	MaxDelay int `json:"max_delay" yaml:"max_delay"`
	// Seed seeds the link's random source.
	Seed int64 `json:"seed" yaml:"seed"`
}

// LinkStats counts what a Link did.
type LinkStats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Duplicated uint64 `json:"duplicated"`
	Delivered  uint64 `json:"delivered"`
}

type inFlight struct {
	due int
	seq uint64
	p   []byte
}

func byDue(a, b interface{}) int {
	x, y := a.(inFlight), b.(inFlight)
	switch {
	case x.due != y.due:
		return x.due - y.due
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	default:
		return 0
	}
}

// Link carries packets in one direction. It is not safe for concurrent use.
type Link struct {
	cfg   LinkConfig
	rng   *rand.Rand
	step  int
	seq   uint64
	queue *binaryheap.Heap
	stats LinkStats
}

// NewLink returns a Link with the given faults.
func NewLink(cfg LinkConfig) *Link {
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	return &Link{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)), // nolint: gosec
		queue: binaryheap.NewWith(byDue),
	}
}

// Send hands a packet to the link. The packet is copied.
func (l *Link) Send(p []byte) {
	l.stats.Sent++
	if l.rng.Float64() < l.cfg.Loss {
		l.stats.Dropped++
		log.Debugf("Dropping %d byte packet", len(p))
		return
	}

	copies := 1
	if l.rng.Float64() < l.cfg.Duplicate {
		l.stats.Duplicated++
		copies++
	}
	for i := 0; i < copies; i++ {
		l.queue.Push(inFlight{
			due: l.step + l.rng.Intn(l.cfg.MaxDelay+1),
			seq: l.seq,
			p:   append([]byte(nil), p...),
		})
		l.seq++
	}
}

// Advance returns the packets due at the current step, ordered by due step
// and then by send order, and moves the link to the next step.
func (l *Link) Advance() [][]byte {
	var out [][]byte
	for {
		v, ok := l.queue.Peek()
		if !ok || v.(inFlight).due > l.step {
			break
		}
		l.queue.Pop()
		out = append(out, v.(inFlight).p)
	}
	l.stats.Delivered += uint64(len(out))
	l.step++
	return out
}

// InFlight returns the number of packets held by the link.
func (l *Link) InFlight() int { return l.queue.Size() }

// Stats returns the link's counters.
func (l *Link) Stats() LinkStats { return l.stats }
