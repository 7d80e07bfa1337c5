// Package reliability holds the per-channel bookkeeping of a session:
// sequence issuance, the receive window and its ack bitfield, the
// awaiting-ack table, in-order delivery and fragment reassembly.
//
// Nothing in this package locks. A session owns its trackers and drives them
// from a single goroutine.
package reliability

import "sync/atomic"

// SeqNewer reports whether a is newer than b on the circular 32-bit sequence
// space. The comparison is correct as long as the two numbers are less than
// 2^31 apart.
func SeqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}

// SeqDistance returns how far a is ahead of b (negative when behind).
func SeqDistance(a, b uint32) int32 {
	return int32(a - b)
}

// SeqGen issues sequence numbers for one channel, starting at 0. It is
// atomic so that observers may read NextSeq while the owner sends.
type SeqGen struct {
	val atomic.Uint32
}

// Next returns the next sequence number and advances the counter. The
// counter wraps at 2^32.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1) - 1
}

// Peek returns the sequence number the next call to Next will return.
func (s *SeqGen) Peek() uint32 {
	return s.val.Load()
}

// Last returns the most recently issued sequence number. Before anything is
// issued this is 2^32-1, the number just before 0.
func (s *SeqGen) Last() uint32 {
	return s.val.Load() - 1
}
