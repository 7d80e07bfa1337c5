package reliability

import (
	"fmt"
	"sort"
	"time"

	"github.com/1ureka/rtnet/internal/protocol"
)

// WindowSize is the width of the ack bitfield. Bit i of the bitfield stands
// for ackBase - i, so bit 0 is the highest received sequence number itself.
const WindowSize = 8

// Outcome classifies an inbound sequence number against the receive window.
type Outcome uint8

const (
	// Accepted means the sequence number was not seen before and has been
	// recorded.
	Accepted Outcome = iota
	// Duplicate means the sequence number is inside the window and already
	// recorded. Receiving it changes nothing.
	Duplicate
	// Stale means the sequence number is older than the window can describe.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Pending is a reliable packet that has been sent and not yet acknowledged.
type Pending struct {
	Seq       uint32
	Packet    *protocol.Packet
	FirstSent time.Time
	LastSent  time.Time
	Attempts  int // retransmissions so far
}

// RetryPolicy controls when unacknowledged packets are sent again.
type RetryPolicy struct {
	Interval    time.Duration // wait before the first retransmission
	MaxInterval time.Duration // cap on the doubled interval
	MaxRetries  int           // retransmissions before the peer is considered lost
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    200 * time.Millisecond,
		MaxInterval: 2 * time.Second,
		MaxRetries:  10,
	}
}

// Backoff returns how long an entry that has been retransmitted attempts
// times waits before its next retransmission.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	d := p.Interval
	for i := 0; i < attempts && i < 32; i++ {
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			break
		}
		d *= 2
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// Tracker is the reliability state of one channel of one session: the send
// counter, the receive window, and (on reliable channels) the table of
// packets awaiting acknowledgment.
type Tracker struct {
	channel protocol.Channel
	seq     SeqGen

	received bool
	highest  uint32
	bits     uint8
	ackDue   bool

	pending map[uint32]*Pending
}

// NewTracker creates the tracker of channel ch. The first sequence number it
// issues is 0.
func NewTracker(ch protocol.Channel) *Tracker {
	return &Tracker{
		channel: ch,
		pending: make(map[uint32]*Pending),
	}
}

// Channel returns the channel this tracker serves.
func (t *Tracker) Channel() protocol.Channel { return t.channel }

// NextSeq returns the sequence number the next outbound packet will carry.
func (t *Tracker) NextSeq() uint32 { return t.seq.Peek() }

// Assign issues the next outbound sequence number.
func (t *Tracker) Assign() uint32 { return t.seq.Next() }

// LastAssigned returns the most recently issued sequence number.
func (t *Tracker) LastAssigned() uint32 { return t.seq.Last() }

// Highest returns the highest sequence number received so far, and false if
// nothing has been received yet.
func (t *Tracker) Highest() (uint32, bool) { return t.highest, t.received }

// AckFields returns the ackBase/ackBits pair describing the receive window.
// Before anything is received both are zero; bit 0 being clear tells the
// peer that ackBase itself is not acknowledged.
func (t *Tracker) AckFields() (base uint32, bits uint8) {
	return t.highest, t.bits
}

// Stamp writes the current ack fields into h. Every outbound packet is
// stamped, which is what piggy-backs acknowledgments onto normal traffic.
func (t *Tracker) Stamp(h *protocol.Header) {
	h.AckBase, h.AckBits = t.AckFields()
	t.ackDue = false
}

// NeedsAck reports whether this reliable channel has received data that no
// outbound packet has acknowledged yet.
func (t *Tracker) NeedsAck() bool {
	return t.ackDue && t.channel.Reliable()
}

// Receive records an inbound sequence number. Duplicate and Stale leave the
// window untouched.
func (t *Tracker) Receive(seq uint32) Outcome {
	if !t.received {
		t.received = true
		t.highest = seq
		t.bits = 1
		t.ackDue = true
		return Accepted
	}

	if d := SeqDistance(seq, t.highest); d > 0 {
		if d >= WindowSize {
			t.bits = 1
		} else {
			t.bits = t.bits<<uint(d) | 1
		}
		t.highest = seq
		t.ackDue = true
		return Accepted
	}

	back := t.highest - seq
	if back >= WindowSize {
		return Stale
	}
	bit := uint8(1) << back
	if t.bits&bit != 0 {
		return Duplicate
	}
	t.bits |= bit
	t.ackDue = true
	return Accepted
}

// Track records a reliable packet as awaiting acknowledgment. Packets on
// unreliable channels are ignored.
func (t *Tracker) Track(pkt *protocol.Packet, now time.Time) {
	if !t.channel.Reliable() {
		return
	}
	t.pending[pkt.Header.Seq] = &Pending{
		Seq:       pkt.Header.Seq,
		Packet:    pkt,
		FirstSent: now,
		LastSent:  now,
	}
}

// OnAck releases every pending packet acknowledged by an inbound
// ackBase/ackBits pair and returns how many were released. Applying the same
// pair twice is harmless.
func (t *Tracker) OnAck(base uint32, bits uint8) int {
	released := 0
	for i := uint32(0); i < WindowSize; i++ {
		if bits&(1<<i) != 0 && t.Release(base-i) {
			released++
		}
	}
	return released
}

// Release removes seq from the awaiting-ack table, reporting whether it was
// there.
func (t *Tracker) Release(seq uint32) bool {
	if _, ok := t.pending[seq]; !ok {
		return false
	}
	delete(t.pending, seq)
	return true
}

// PendingLen returns the number of packets awaiting acknowledgment.
func (t *Tracker) PendingLen() int { return len(t.pending) }

// IsPending reports whether seq awaits acknowledgment.
func (t *Tracker) IsPending(seq uint32) bool {
	_, ok := t.pending[seq]
	return ok
}

// Due returns the pending packets whose backoff has elapsed at now, oldest
// sequence first, and marks them as retransmitted. exhausted is true when
// some entry has used up its retries; such entries are not returned.
func (t *Tracker) Due(now time.Time, p RetryPolicy) (due []*Pending, exhausted bool) {
	for _, e := range t.pending {
		if now.Sub(e.LastSent) < p.Backoff(e.Attempts) {
			continue
		}
		if e.Attempts >= p.MaxRetries {
			exhausted = true
			continue
		}
		e.Attempts++
		e.LastSent = now
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		return SeqNewer(due[j].Seq, due[i].Seq)
	})
	return due, exhausted
}

// Reset drops the awaiting-ack table. The counters are kept.
func (t *Tracker) Reset() {
	clear(t.pending)
	t.ackDue = false
}
