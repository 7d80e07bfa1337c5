package reliability

import (
	"testing"

	"github.com/1ureka/rtnet/internal/protocol"
)

// makePacket creates a test packet with the given seq.
func makePacket(seq uint32) *protocol.Packet {
	h := protocol.NewHeader(protocol.CmdChat, protocol.ReliableOrdered, 0xAB)
	h.Seq = seq
	return &protocol.Packet{Header: h, Payload: []byte{byte(seq)}}
}

func seqsOf(pkts []*protocol.Packet) []uint32 {
	out := make([]uint32, len(pkts))
	for i, p := range pkts {
		out[i] = p.Header.Seq
	}
	return out
}

func equalSeqs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrdererFeed(t *testing.T) {
	testCases := []struct {
		name  string
		first uint32
		feed  []uint32
		want  []uint32
	}{
		{"in order", 0, []uint32{0, 1, 2, 3}, []uint32{0, 1, 2, 3}},
		{"reverse", 0, []uint32{3, 2, 1, 0}, []uint32{0, 1, 2, 3}},
		{"shuffled", 0, []uint32{2, 0, 3, 1}, []uint32{0, 1, 2, 3}},
		{"duplicates", 0, []uint32{1, 1, 0, 0, 1}, []uint32{0, 1}},
		{"gap never filled", 0, []uint32{0, 2, 3}, []uint32{0}},
		{"wraparound", 0xFFFFFFFE, []uint32{0, 0xFFFFFFFF, 0xFFFFFFFE, 1}, []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOrderer(tc.first, 0)
			var got []uint32
			for _, s := range tc.feed {
				got = append(got, seqsOf(o.Feed(makePacket(s)))...)
			}
			if !equalSeqs(got, tc.want) {
				t.Errorf("delivered %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrdererDeliveredAndBuffered(t *testing.T) {
	o := NewOrderer(0, 0)
	o.Feed(makePacket(0))
	o.Feed(makePacket(2))

	if !o.Delivered(0) || o.Delivered(1) || o.Delivered(2) {
		t.Error("Delivered reports wrong state")
	}
	if !o.Buffered(2) || o.Buffered(1) {
		t.Error("Buffered reports wrong state")
	}
	if o.Accepts(0) || o.Accepts(2) || !o.Accepts(1) {
		t.Error("Accepts reports wrong state")
	}
	if o.Len() != 1 || o.Expected() != 1 {
		t.Errorf("Len=%d Expected=%d, want 1 1", o.Len(), o.Expected())
	}
}

func TestOrdererLimit(t *testing.T) {
	o := NewOrderer(0, 2)
	o.Feed(makePacket(1))
	o.Feed(makePacket(2))

	if o.Accepts(3) {
		t.Error("buffer full, but Accepts(3) is true")
	}
	if got := o.Feed(makePacket(3)); got != nil {
		t.Errorf("Feed(3) = %v, want nil", seqsOf(got))
	}
	// The expected packet always fits.
	if got := seqsOf(o.Feed(makePacket(0))); !equalSeqs(got, []uint32{0, 1, 2}) {
		t.Errorf("Feed(0) = %v, want [0 1 2]", got)
	}
}

func TestOrdererFeedRejected(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		fed   []uint32
		seq   uint32
	}{
		{"already delivered", 0, []uint32{0, 1}, 0},
		{"already buffered", 0, []uint32{0, 3}, 3},
		{"buffer full", 1, []uint32{2}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrderer(0, tt.limit)
			for _, s := range tt.fed {
				o.Feed(makePacket(s))
			}
			wantLen, wantExpected := o.Len(), o.Expected()

			if got := o.Feed(makePacket(tt.seq)); got != nil {
				t.Errorf("Feed(%d) = %v, want nil", tt.seq, seqsOf(got))
			}
			if o.Len() != wantLen || o.Expected() != wantExpected {
				t.Errorf("Len=%d Expected=%d after rejected feed, want %d %d",
					o.Len(), o.Expected(), wantLen, wantExpected)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	var l Latest
	steps := []struct {
		seq  uint32
		want bool
	}{
		{5, true},
		{3, false},
		{5, false},
		{6, true},
		{0xFFFFFFFF, false},
	}
	for _, s := range steps {
		if got := l.Admit(s.seq); got != s.want {
			t.Errorf("Admit(%d) = %v, want %v", s.seq, got, s.want)
		}
	}
}
