package reliability

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rtnet/internal/protocol"
)

// Defaults for fragment reassembly.
const (
	DefaultMaxFragments    = 256
	DefaultFragmentTimeout = 5 * time.Second

	// maxPartial bounds the number of messages reassembled concurrently on
	// one channel.
	maxPartial = 64
)

var (
	ErrTooManyFragments = errors.New("reliability: too many fragments")
	ErrFragmentMismatch = errors.New("reliability: fragment does not match its message")
	ErrReassemblyFull   = errors.New("reliability: too many partial messages")
	ErrMessageTooLarge  = errors.New("reliability: reassembled message too large")
)

// Split cuts payload into fragment payloads of at most chunkSize data bytes,
// each prefixed with its index and the total count. It fails when more than
// maxFragments pieces would be needed.
func Split(payload []byte, chunkSize, maxFragments int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("reliability: invalid chunk size %d", chunkSize)
	}
	n := (len(payload) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	if n > maxFragments || n > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes need %d (max %d)", ErrTooManyFragments, len(payload), n, maxFragments)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(payload))
		info := protocol.FragmentInfo{Index: uint16(i), Total: uint16(n)}
		buf := make([]byte, 0, protocol.FragmentHeaderSize+end-start)
		out = append(out, protocol.AppendFragment(buf, info, payload[start:end]))
	}
	return out, nil
}

type partial struct {
	header   protocol.Header // header of fragment 0, once seen
	total    uint16
	received int
	chunks   [][]byte
	created  time.Time
}

// Reassembler collects the fragments of one channel, keyed by the base
// sequence number of the message they belong to.
type Reassembler struct {
	timeout      time.Duration
	maxFragments int
	partials     map[uint32]*partial
}

// NewReassembler creates a reassembly buffer. Non-positive arguments select
// the defaults.
func NewReassembler(timeout time.Duration, maxFragments int) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultFragmentTimeout
	}
	if maxFragments <= 0 {
		maxFragments = DefaultMaxFragments
	}
	return &Reassembler{
		timeout:      timeout,
		maxFragments: maxFragments,
		partials:     make(map[uint32]*partial),
	}
}

// Len returns the number of incomplete messages held.
func (r *Reassembler) Len() int { return len(r.partials) }

// Feed adds one fragment. It returns the reassembled packet when pkt was the
// last missing piece, and nil while pieces are still missing. The result
// carries the header of fragment 0 with the FRAGMENT flag cleared, the base
// sequence number and the size of the whole payload.
func (r *Reassembler) Feed(pkt *protocol.Packet, now time.Time) (*protocol.Packet, error) {
	info, chunk, err := protocol.SplitFragment(pkt.Payload)
	if err != nil {
		return nil, err
	}
	if int(info.Total) > r.maxFragments {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyFragments, info.Total, r.maxFragments)
	}

	base := pkt.Header.Seq - uint32(info.Index)
	p, ok := r.partials[base]
	if !ok {
		if len(r.partials) >= maxPartial {
			return nil, ErrReassemblyFull
		}
		p = &partial{
			total:   info.Total,
			chunks:  make([][]byte, info.Total),
			created: now,
		}
		r.partials[base] = p
	}

	if p.total != info.Total {
		return nil, fmt.Errorf("%w: total %d, message has %d", ErrFragmentMismatch, info.Total, p.total)
	}
	if p.chunks[info.Index] != nil {
		return nil, nil
	}

	p.chunks[info.Index] = append(make([]byte, 0, len(chunk)), chunk...)
	p.received++
	if info.Index == 0 {
		p.header = pkt.Header
	}
	if p.received < int(p.total) {
		return nil, nil
	}

	delete(r.partials, base)

	size := 0
	for _, c := range p.chunks {
		size += len(c)
	}
	if size > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	payload := make([]byte, 0, size)
	for _, c := range p.chunks {
		payload = append(payload, c...)
	}

	h := p.header
	h.Flags &^= protocol.FlagFragment
	h.Seq = base
	h.Size = uint16(size)
	return &protocol.Packet{Header: h, Payload: payload}, nil
}

// Evict drops incomplete messages older than the timeout and returns how
// many were dropped.
func (r *Reassembler) Evict(now time.Time) int {
	n := 0
	for base, p := range r.partials {
		if now.Sub(p.created) >= r.timeout {
			delete(r.partials, base)
			n++
		}
	}
	return n
}

// Reset drops every incomplete message.
func (r *Reassembler) Reset() {
	clear(r.partials)
}
