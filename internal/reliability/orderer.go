package reliability

import (
	"container/heap"

	"github.com/1ureka/rtnet/internal/protocol"
)

// DefaultOrderLimit bounds how many out-of-order packets an Orderer holds.
const DefaultOrderLimit = 1024

// Orderer releases the packets of one channel strictly in sequence order,
// buffering those that arrive early.
type Orderer struct {
	expected uint32
	buffer   packetHeap
	buffered map[uint32]struct{}
	limit    int
}

// NewOrderer creates an orderer expecting first as the next sequence number.
// limit caps the number of buffered packets; values <= 0 select
// DefaultOrderLimit.
func NewOrderer(first uint32, limit int) *Orderer {
	if limit <= 0 {
		limit = DefaultOrderLimit
	}
	return &Orderer{
		expected: first,
		buffered: make(map[uint32]struct{}),
		limit:    limit,
	}
}

// Expected returns the next sequence number to be released.
func (o *Orderer) Expected() uint32 { return o.expected }

// Len returns the number of buffered packets.
func (o *Orderer) Len() int { return o.buffer.Len() }

// Delivered reports whether seq has already been released.
func (o *Orderer) Delivered(seq uint32) bool { return SeqNewer(o.expected, seq) }

// Buffered reports whether seq is waiting in the buffer.
func (o *Orderer) Buffered(seq uint32) bool {
	_, ok := o.buffered[seq]
	return ok
}

// Accepts reports whether Feed would take seq: it is neither released nor
// buffered, and either releasable now or there is room to buffer it.
func (o *Orderer) Accepts(seq uint32) bool {
	if o.Delivered(seq) || o.Buffered(seq) {
		return false
	}
	return seq == o.expected || o.buffer.Len() < o.limit
}

// Feed processes an incoming packet and returns all packets that can now be
// delivered in sequence order. Returns nil if no packets are ready.
func (o *Orderer) Feed(pkt *protocol.Packet) []*protocol.Packet {
	seq := pkt.Header.Seq
	if !o.Accepts(seq) {
		return nil
	}

	if seq != o.expected {
		// Future packet, buffer it.
		heap.Push(&o.buffer, pkt)
		o.buffered[seq] = struct{}{}
		return nil
	}

	result := []*protocol.Packet{pkt}
	o.expected++

	for o.buffer.Len() > 0 && o.buffer[0].Header.Seq == o.expected {
		next := heap.Pop(&o.buffer).(*protocol.Packet)
		delete(o.buffered, next.Header.Seq)
		result = append(result, next)
		o.expected++
	}

	return result
}

// packetHeap is a min-heap of packets ordered by circular sequence number.
type packetHeap []*protocol.Packet

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	return SeqNewer(h[j].Header.Seq, h[i].Header.Seq)
}
func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x any)   { *h = append(*h, x.(*protocol.Packet)) }

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}

// Latest admits only sequence numbers newer than the last one it admitted.
// It implements drop-if-late delivery.
type Latest struct {
	has  bool
	last uint32
}

// Admit reports whether seq is newer than everything admitted before, and
// records it if so.
func (l *Latest) Admit(seq uint32) bool {
	if l.has && !SeqNewer(seq, l.last) {
		return false
	}
	l.has = true
	l.last = seq
	return true
}
