package reliability

// DefaultDeliveredWindow is how many sequence numbers below the newest one a
// DeliveredSet remembers.
const DefaultDeliveredWindow = 1024

// DeliveredSet records which sequence numbers of an unordered reliable
// channel were handed to the application. It covers a window much wider
// than the 8-bit ack field, so a retransmission that fell out of the ack
// window is still recognised as new or as a duplicate. Numbers older than
// the window count as delivered.
type DeliveredSet struct {
	bits    []uint64
	size    uint32
	newest  uint32
	started bool
}

// NewDeliveredSet returns a set covering window sequence numbers, rounded
// up to a power of two of at least 64. The slots must divide 2^32 so that
// they stay consistent across sequence wraparound.
func NewDeliveredSet(window int) *DeliveredSet {
	if window <= 0 {
		window = DefaultDeliveredWindow
	}
	size := uint32(64)
	for int(size) < window && size < 1<<30 {
		size <<= 1
	}
	return &DeliveredSet{bits: make([]uint64, size/64), size: size}
}

// Has reports whether seq was delivered.
func (d *DeliveredSet) Has(seq uint32) bool {
	if !d.started {
		return false
	}
	back := SeqDistance(d.newest, seq)
	switch {
	case back < 0:
		return false
	case uint32(back) >= d.size:
		return true
	}
	return d.bits[d.word(seq)]&d.mask(seq) != 0
}

// Add marks seq as delivered, sliding the window when seq is the newest.
func (d *DeliveredSet) Add(seq uint32) {
	if !d.started {
		d.started, d.newest = true, seq
		d.bits[d.word(seq)] |= d.mask(seq)
		return
	}

	if ahead := SeqDistance(seq, d.newest); ahead > 0 {
		if uint32(ahead) >= d.size {
			clear(d.bits)
		} else {
			// Free the slots of the numbers that just left the window.
			for s := d.newest + 1; ; s++ {
				d.bits[d.word(s)] &^= d.mask(s)
				if s == seq {
					break
				}
			}
		}
		d.newest = seq
	} else if uint32(-ahead) >= d.size {
		return
	}
	d.bits[d.word(seq)] |= d.mask(seq)
}

// Reset forgets everything.
func (d *DeliveredSet) Reset() {
	clear(d.bits)
	d.newest, d.started = 0, false
}

func (d *DeliveredSet) word(seq uint32) uint32 { return (seq % d.size) / 64 }
func (d *DeliveredSet) mask(seq uint32) uint64 { return 1 << (seq % 64) }
