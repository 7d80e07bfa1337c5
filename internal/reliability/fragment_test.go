package reliability

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/rtnet/internal/protocol"
)

// fragmentPackets splits payload and wraps the pieces in packets on
// consecutive sequence numbers starting at base.
func fragmentPackets(t *testing.T, payload []byte, chunk int, base uint32) []*protocol.Packet {
	t.Helper()
	pieces, err := Split(payload, chunk, DefaultMaxFragments)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	pkts := make([]*protocol.Packet, len(pieces))
	for i, p := range pieces {
		h := protocol.NewHeader(protocol.CmdChat, protocol.ReliableUnordered, 7)
		h.Flags = protocol.FlagReliable | protocol.FlagFragment
		h.Seq = base + uint32(i)
		h.Size = uint16(len(p))
		pkts[i] = &protocol.Packet{Header: h, Payload: p}
	}
	return pkts
}

func TestSplit(t *testing.T) {
	testCases := []struct {
		name      string
		size      int
		chunk     int
		wantCount int
	}{
		{"empty", 0, 10, 1},
		{"exact multiple", 30, 10, 3},
		{"remainder", 31, 10, 4},
		{"smaller than chunk", 5, 10, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0x5A}, tc.size)
			pieces, err := Split(payload, tc.chunk, DefaultMaxFragments)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if len(pieces) != tc.wantCount {
				t.Fatalf("got %d pieces, want %d", len(pieces), tc.wantCount)
			}
			var joined []byte
			for i, p := range pieces {
				info, chunk, err := protocol.SplitFragment(p)
				if err != nil {
					t.Fatalf("piece %d: %v", i, err)
				}
				if int(info.Index) != i || int(info.Total) != tc.wantCount {
					t.Errorf("piece %d has prefix %+v", i, info)
				}
				joined = append(joined, chunk...)
			}
			if !bytes.Equal(joined, payload) {
				t.Error("pieces do not join back to the payload")
			}
		})
	}
}

func TestSplitTooManyFragments(t *testing.T) {
	if _, err := Split(make([]byte, 100), 10, 5); !errors.Is(err, ErrTooManyFragments) {
		t.Errorf("expected ErrTooManyFragments, got %v", err)
	}
}

// TestReassembleAnyOrder feeds 3 fragments in several arrival orders and
// expects exactly one message, after the last one.
func TestReassembleAnyOrder(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	orders := [][]int{
		{0, 1, 2},
		{1, 0, 2},
		{2, 1, 0},
		{1, 2, 0},
	}

	for _, order := range orders {
		r := NewReassembler(time.Second, 0)
		pkts := fragmentPackets(t, payload, 16, 100)
		if len(pkts) != 3 {
			t.Fatalf("expected 3 fragments, got %d", len(pkts))
		}

		var results []*protocol.Packet
		for i, idx := range order {
			out, err := r.Feed(pkts[idx], time.Unix(0, 0))
			if err != nil {
				t.Fatalf("order %v: Feed failed: %v", order, err)
			}
			if out != nil {
				if i != len(order)-1 {
					t.Fatalf("order %v: message emitted after %d fragments", order, i+1)
				}
				results = append(results, out)
			}
		}

		if len(results) != 1 {
			t.Fatalf("order %v: %d messages, want 1", order, len(results))
		}
		got := results[0]
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("order %v: payload %q", order, got.Payload)
		}
		if got.Header.Seq != 100 || got.Header.Flags.Has(protocol.FlagFragment) ||
			int(got.Header.Size) != len(payload) || got.Header.Command != protocol.CmdChat {
			t.Errorf("order %v: header %+v", order, got.Header)
		}
		if r.Len() != 0 {
			t.Errorf("order %v: %d partial messages left", order, r.Len())
		}
	}
}

func TestReassembleDuplicateFragment(t *testing.T) {
	r := NewReassembler(time.Second, 0)
	pkts := fragmentPackets(t, []byte("abcdef"), 2, 0)

	r.Feed(pkts[0], time.Unix(0, 0))
	if out, err := r.Feed(pkts[0], time.Unix(0, 0)); out != nil || err != nil {
		t.Errorf("duplicate fragment: out=%v err=%v", out, err)
	}
	r.Feed(pkts[1], time.Unix(0, 0))
	out, err := r.Feed(pkts[2], time.Unix(0, 0))
	if err != nil || out == nil || string(out.Payload) != "abcdef" {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestReassembleWraparound(t *testing.T) {
	r := NewReassembler(time.Second, 0)
	pkts := fragmentPackets(t, []byte("wrapping"), 3, 0xFFFFFFFF)

	var out *protocol.Packet
	for i := len(pkts) - 1; i >= 0; i-- {
		var err error
		if out, err = r.Feed(pkts[i], time.Unix(0, 0)); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	if out == nil || string(out.Payload) != "wrapping" || out.Header.Seq != 0xFFFFFFFF {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestReassembleEviction(t *testing.T) {
	start := time.Unix(50, 0)
	r := NewReassembler(5*time.Second, 0)
	pkts := fragmentPackets(t, []byte("abcdef"), 2, 10)

	r.Feed(pkts[0], start)
	if n := r.Evict(start.Add(4 * time.Second)); n != 0 {
		t.Errorf("evicted %d before timeout", n)
	}
	if n := r.Evict(start.Add(5 * time.Second)); n != 1 {
		t.Errorf("evicted %d at timeout, want 1", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after eviction", r.Len())
	}

	// The remaining fragments start a fresh message that never completes.
	r.Feed(pkts[1], start.Add(6*time.Second))
	if out, _ := r.Feed(pkts[2], start.Add(6*time.Second)); out != nil {
		t.Error("message completed without its evicted first fragment")
	}
}

func TestReassembleRejects(t *testing.T) {
	r := NewReassembler(time.Second, 4)

	big := fragmentPackets(t, make([]byte, 50), 10, 0)
	if _, err := r.Feed(big[0], time.Unix(0, 0)); !errors.Is(err, ErrTooManyFragments) {
		t.Errorf("expected ErrTooManyFragments, got %v", err)
	}

	short := &protocol.Packet{Header: protocol.Header{Flags: protocol.FlagFragment}, Payload: []byte{0}}
	if _, err := r.Feed(short, time.Unix(0, 0)); !errors.Is(err, protocol.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}

	a := &protocol.Packet{Header: protocol.Header{Seq: 0}, Payload: protocol.AppendFragment(nil, protocol.FragmentInfo{Index: 0, Total: 2}, []byte("x"))}
	b := &protocol.Packet{Header: protocol.Header{Seq: 1}, Payload: protocol.AppendFragment(nil, protocol.FragmentInfo{Index: 1, Total: 3}, []byte("y"))}
	r.Feed(a, time.Unix(0, 0))
	if _, err := r.Feed(b, time.Unix(0, 0)); !errors.Is(err, ErrFragmentMismatch) {
		t.Errorf("expected ErrFragmentMismatch, got %v", err)
	}
}
