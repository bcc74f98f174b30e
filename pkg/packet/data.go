package packet

import (
	"fmt"
)

// MaxFragments is the largest number of shards one message can be split into.
const MaxFragments = 255

// Unit is one piece of channel traffic: either a SingleData or a FragmentData.
// The set is closed; switch on the concrete type to handle it.
type Unit interface {
	isUnit()
}

// SingleData is one complete application payload in flight.
// ID is set by senders that track or sequence messages, Tick by the
// tick-buffered sender.
type SingleData struct {
	ID    *MessageID
	Tick  *Tick
	Bytes []byte
}

func (SingleData) isUnit() {}

// String implements fmt.Stringer.
func (d SingleData) String() string {
	id, tick := "-", "-"
	if d.ID != nil {
		id = fmt.Sprint(*d.ID)
	}
	if d.Tick != nil {
		tick = fmt.Sprint(*d.Tick)
	}
	return fmt.Sprintf("<single><id:%s><tick:%s><size:%d>", id, tick, len(d.Bytes))
}

// NewSingle returns a SingleData carrying id.
func NewSingle(id MessageID, b []byte) SingleData {
	return SingleData{ID: &id, Bytes: b}
}

// FragmentData is one shard of an oversized payload.
type FragmentData struct {
	MessageID    MessageID
	FragmentID   uint8
	NumFragments uint8
	Bytes        []byte
}

func (FragmentData) isUnit() {}

// String implements fmt.Stringer.
func (f FragmentData) String() string {
	return fmt.Sprintf("<fragment><id:%d><%d/%d><size:%d>",
		f.MessageID, f.FragmentID, f.NumFragments, len(f.Bytes))
}

// Valid reports whether the shard metadata is self-consistent.
func (f FragmentData) Valid() bool {
	return f.NumFragments > 0 && f.FragmentID < f.NumFragments
}
