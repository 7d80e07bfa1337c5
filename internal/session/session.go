// Package session implements the per-peer protocol session: it owns one
// reliability tracker per channel, turns typed messages into datagrams, and
// turns datagrams back into typed, ordered, reassembled messages.
//
// A Session is not safe for concurrent use. One goroutine drives it through
// Send*, Receive and Tick; the dispatch package does exactly that.
package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/reliability"
	"github.com/1ureka/rtnet/internal/util"
)

// Transport is the datagram boundary a session talks through. Poll never
// blocks: it returns ok=false when nothing is queued.
type Transport interface {
	SendTo(data []byte, addr net.Addr) error
	Poll() (data []byte, from net.Addr, ok bool)
}

var (
	ErrClosed           = errors.New("session: closed")
	ErrLost             = errors.New("session: connection lost")
	ErrRetriesExhausted = errors.New("session: reliable send not acknowledged")
	ErrIdleTimeout      = errors.New("session: peer idle")
	ErrPayloadTooLarge  = errors.New("session: payload too large")
	ErrInvalidChannel   = errors.New("session: invalid channel")
)

// Drop reasons, used as log text and metric labels.
const (
	DropForeign    = "foreign_peer"
	DropDuplicate  = "duplicate"
	DropStale      = "stale"
	DropLate       = "late"
	DropOrderFull  = "order_buffer_full"
	DropFragment   = "bad_fragment"
	DropBadPayload = "bad_payload"
)

// EventKind distinguishes session events.
type EventKind uint8

const (
	// EventPacket carries one complete inbound message.
	EventPacket EventKind = iota + 1
	// EventConnectionLost is emitted once, when reliable sends went
	// unacknowledged for too long or the peer stayed silent.
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventPacket:
		return "packet"
	case EventConnectionLost:
		return "connection-lost"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is what a session hands to the application.
type Event struct {
	Kind    EventKind
	Packet  *protocol.Packet
	Message protocol.Message
	From    net.Addr
	Err     error // why the connection was lost
}

// Counters is a snapshot of per-session traffic counts.
type Counters struct {
	Sent        uint64
	Received    uint64
	Dropped     uint64
	Retransmits uint64
}

// Session is the protocol state of one peer connection.
type Session struct {
	opts      options
	transport Transport
	peer      net.Addr

	trackers  [protocol.ChannelCount]*reliability.Tracker
	frags     [protocol.ChannelCount]*reliability.Reassembler
	orderer   *reliability.Orderer      // reliable-ordered channel
	delivered *reliability.DeliveredSet // reliable-unordered channel
	latest    reliability.Latest        // unreliable-ordered channel

	ready    []Event
	lastRecv time.Time
	peerID   uint32
	hasPeer  bool

	counters Counters
	closed   bool
	lost     bool
}

// Open creates the session with peer over t. It performs no handshake; the
// JOIN/CHALLENGE/AUTH flow is ordinary traffic on top of it. peer may be nil
// when t only ever talks to one endpoint.
func Open(t Transport, peer net.Addr, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxDatagram < protocol.HeaderSize+protocol.FragmentHeaderSize+1 {
		return nil, fmt.Errorf("session: max datagram %d too small", o.maxDatagram)
	}
	if o.maxFragments <= 0 || o.maxFragments > 0xFFFF {
		return nil, fmt.Errorf("session: max fragments %d out of range", o.maxFragments)
	}

	s := &Session{
		opts:      o,
		transport: t,
		peer:      peer,
		orderer:   reliability.NewOrderer(0, o.orderLimit),
		delivered: reliability.NewDeliveredSet(reliability.DefaultDeliveredWindow),
		lastRecv:  o.clock(),
	}
	for ch := range protocol.ChannelCount {
		s.trackers[ch] = reliability.NewTracker(protocol.Channel(ch))
		s.frags[ch] = reliability.NewReassembler(o.fragmentTimeout, o.maxFragments)
	}

	o.metrics.SessionOpened()
	util.Stats.AddSession()
	util.LogDebug("[%08x] session opened with %v", o.id, peer)
	return s, nil
}

// ID returns the connection identifier written into outbound headers.
func (s *Session) ID() uint32 { return s.opts.id }

// Peer returns the remote endpoint.
func (s *Session) Peer() net.Addr { return s.peer }

// PeerID returns the identifier the peer writes into its headers, once a
// valid packet has been seen.
func (s *Session) PeerID() (uint32, bool) { return s.peerID, s.hasPeer }

// Tracker exposes the reliability state of ch.
func (s *Session) Tracker(ch protocol.Channel) *reliability.Tracker {
	return s.trackers[ch&0b11]
}

// NextSeq returns the sequence number the next packet on ch will carry.
func (s *Session) NextSeq(ch protocol.Channel) uint32 {
	return s.Tracker(ch).NextSeq()
}

// Counters returns the traffic counts so far.
func (s *Session) Counters() Counters { return s.counters }

// Lost reports whether the peer has been considered lost.
func (s *Session) Lost() bool { return s.lost }

// Close releases the session's tracker state. Unacknowledged reliable sends
// are not flushed. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for ch := range protocol.ChannelCount {
		s.trackers[ch].Reset()
		s.frags[ch].Reset()
	}
	s.delivered.Reset()
	s.ready = nil
	s.opts.metrics.SessionClosed()
	util.Stats.RemoveSession()
	util.LogDebug("[%08x] session with %v closed", s.opts.id, s.peer)
	return nil
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send sends m on the default channel of its command.
func (s *Session) Send(m protocol.Message) error {
	return s.SendOn(protocol.DefaultChannel(m.Command()), m)
}

// SendOn sends m on ch. Payloads that do not fit one datagram are
// fragmented over consecutive sequence numbers.
func (s *Session) SendOn(ch protocol.Channel, m protocol.Message) error {
	if s.closed {
		return ErrClosed
	}
	if !ch.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, uint8(ch))
	}
	payload := protocol.EncodeMessage(m)
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %s payload is %d bytes", ErrPayloadTooLarge, m.Command(), len(payload))
	}

	t := s.trackers[ch]
	limit := s.opts.maxDatagram - protocol.HeaderSize
	if len(payload) <= limit {
		return s.emit(t, m.Command(), 0, payload)
	}

	pieces, err := reliability.Split(payload, limit-protocol.FragmentHeaderSize, s.opts.maxFragments)
	if err != nil {
		return fmt.Errorf("session: %s: %w", m.Command(), err)
	}
	for _, piece := range pieces {
		if err := s.emit(t, m.Command(), protocol.FlagFragment, piece); err != nil {
			return err
		}
	}
	return nil
}

// emit assigns the next sequence number of t's channel, stamps the ack
// fields, tracks reliable packets and hands the datagram to the transport.
func (s *Session) emit(t *reliability.Tracker, cmd protocol.Command, flags protocol.Flags, payload []byte) error {
	h := protocol.NewHeader(cmd, t.Channel(), s.opts.id)
	h.Version = s.opts.version
	h.Flags = flags
	if t.Channel().Reliable() {
		h.Flags |= protocol.FlagReliable
	}
	h.Seq = t.Assign()
	t.Stamp(&h)

	pkt := &protocol.Packet{Header: h, Payload: payload}
	data := protocol.EncodePacket(pkt)
	t.Track(pkt, s.opts.clock())
	return s.write(data, t.Channel())
}

// sendAck acknowledges seq on t's channel. An ACK does not consume a
// sequence number and is never tracked.
func (s *Session) sendAck(t *reliability.Tracker, seq uint32) error {
	h := protocol.NewHeader(protocol.CmdAck, t.Channel(), s.opts.id)
	h.Version = s.opts.version
	h.Seq = t.LastAssigned()
	t.Stamp(&h)
	pkt := &protocol.Packet{Header: h, Payload: protocol.EncodeMessage(protocol.Ack{Seq: seq})}
	return s.write(protocol.EncodePacket(pkt), t.Channel())
}

func (s *Session) write(data []byte, ch protocol.Channel) error {
	if err := s.transport.SendTo(data, s.peer); err != nil {
		return fmt.Errorf("session: send to %v: %w", s.peer, err)
	}
	s.counters.Sent++
	s.opts.metrics.PacketSent(ch.String(), len(data))
	util.Stats.AddSent(len(data))
	return nil
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Receive returns the next complete inbound message. It polls the transport
// until a datagram completes a message or nothing is queued, and never
// blocks. Malformed and foreign datagrams are dropped and counted, never
// returned as errors.
func (s *Session) Receive() (Event, bool) {
	for !s.closed {
		if len(s.ready) > 0 {
			ev := s.ready[0]
			s.ready[0] = Event{}
			s.ready = s.ready[1:]
			return ev, true
		}
		data, from, ok := s.transport.Poll()
		if !ok {
			break
		}
		s.handle(data, from)
	}
	return Event{}, false
}

func (s *Session) handle(data []byte, from net.Addr) {
	now := s.opts.clock()
	s.opts.metrics.DatagramReceived(len(data))
	util.Stats.AddRecv(len(data))

	pkt, err := protocol.DecodePacket(data)
	if err != nil {
		s.drop(protocol.KindOf(err).String(), "%v", err)
		return
	}
	h := &pkt.Header
	switch {
	case h.Magic != protocol.MagicUDP:
		s.drop(protocol.KindUnknownMagic.String(), "magic 0x%04x", h.Magic)
		return
	case h.Version != s.opts.version:
		s.drop(protocol.KindUnsupportedVersion.String(), "version %d", h.Version)
		return
	case !h.Channel.Valid():
		s.drop(protocol.KindMalformedPacket.String(), "channel %d", uint8(h.Channel))
		return
	case !h.Command.Valid():
		s.drop(protocol.KindUnknownCommand.String(), "command %d", uint8(h.Command))
		return
	case !s.fromPeer(from):
		s.drop(DropForeign, "datagram from %v", from)
		return
	}

	s.lastRecv = now
	s.peerID, s.hasPeer = h.ID, true

	t := s.trackers[h.Channel]
	t.OnAck(h.AckBase, h.AckBits)

	if h.Command == protocol.CmdAck {
		if m, err := protocol.ParseMessage(protocol.CmdAck, pkt.Payload); err == nil {
			t.Release(m.(protocol.Ack).Seq)
		}
		return
	}

	switch h.Channel {
	case protocol.ReliableOrdered:
		s.receiveOrdered(t, pkt, from, now)
		return
	case protocol.ReliableUnordered:
		s.receiveUnordered(t, pkt, from, now)
		return
	}

	switch t.Receive(h.Seq) {
	case reliability.Duplicate:
		s.reack(t, h.Seq)
		s.drop(DropDuplicate, "%s seq %d", h.Channel, h.Seq)
		return
	case reliability.Stale:
		s.reack(t, h.Seq)
		s.drop(DropStale, "%s seq %d", h.Channel, h.Seq)
		return
	}
	s.assemble(pkt, from, now)
}

// receiveOrdered handles the reliable-ordered channel. A packet that is stale
// for the ack window but was never delivered is still taken, since dropping
// it would stall the channel forever.
func (s *Session) receiveOrdered(t *reliability.Tracker, pkt *protocol.Packet, from net.Addr, now time.Time) {
	seq := pkt.Header.Seq
	if s.orderer.Delivered(seq) || s.orderer.Buffered(seq) {
		t.Receive(seq)
		s.reack(t, seq)
		s.drop(DropDuplicate, "%s seq %d", pkt.Header.Channel, seq)
		return
	}
	if !s.orderer.Accepts(seq) {
		// Not acknowledged, so the sender will try again.
		s.drop(DropOrderFull, "%s seq %d (expected %d)", pkt.Header.Channel, seq, s.orderer.Expected())
		return
	}
	t.Receive(seq)
	for _, p := range s.orderer.Feed(pkt) {
		s.assemble(p, from, now)
	}
}

// receiveUnordered handles the reliable-unordered channel. Whether a packet
// was delivered is decided by the delivered set, not the 8-wide ack window,
// so a retransmission that fell behind the window is still delivered once.
func (s *Session) receiveUnordered(t *reliability.Tracker, pkt *protocol.Packet, from net.Addr, now time.Time) {
	seq := pkt.Header.Seq
	outcome := t.Receive(seq)
	if s.delivered.Has(seq) {
		s.reack(t, seq)
		s.drop(DropDuplicate, "%s seq %d", pkt.Header.Channel, seq)
		return
	}
	s.delivered.Add(seq)
	if outcome == reliability.Stale {
		// The ack bitfield cannot carry it.
		s.reack(t, seq)
	}
	s.assemble(pkt, from, now)
}

// assemble runs fragment reassembly and drop-if-late filtering, then parses
// the payload and queues the message.
func (s *Session) assemble(pkt *protocol.Packet, from net.Addr, now time.Time) {
	ch := pkt.Header.Channel
	if pkt.Header.Flags.Has(protocol.FlagFragment) {
		whole, err := s.frags[ch].Feed(pkt, now)
		if err != nil {
			s.drop(DropFragment, "%s seq %d: %v", ch, pkt.Header.Seq, err)
			return
		}
		if whole == nil {
			return
		}
		s.opts.metrics.Reassembled()
		pkt = whole
	}

	if ch == protocol.UnreliableOrdered && !s.latest.Admit(pkt.Header.Seq) {
		s.drop(DropLate, "%s seq %d", ch, pkt.Header.Seq)
		return
	}

	m, err := protocol.ParseMessage(pkt.Header.Command, pkt.Payload)
	if err != nil {
		s.drop(DropBadPayload, "%v", err)
		return
	}

	s.counters.Received++
	s.opts.metrics.PacketReceived(ch.String())
	s.ready = append(s.ready, Event{Kind: EventPacket, Packet: pkt, Message: m, From: from})
}

// reack answers a repeated reliable packet with an explicit ACK, since the
// sender evidently missed the acknowledgment.
func (s *Session) reack(t *reliability.Tracker, seq uint32) {
	if !t.Channel().Reliable() {
		return
	}
	if err := s.sendAck(t, seq); err != nil {
		util.LogDebug("[%08x] %v", s.opts.id, err)
	}
}

func (s *Session) fromPeer(from net.Addr) bool {
	if s.peer == nil || from == nil {
		return true
	}
	return from.Network() == s.peer.Network() && from.String() == s.peer.String()
}

func (s *Session) drop(reason, format string, args ...any) {
	s.counters.Dropped++
	s.opts.metrics.Dropped(reason)
	util.LogDebug("[%08x] dropped (%s): %s", s.opts.id, reason, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

// Tick runs the time-driven work of the session: retransmission of
// unacknowledged reliable packets, explicit ACKs for reliable channels that
// have nothing else to carry them, eviction of stale fragments, and the idle
// check. It should be called regularly, for example once per receive loop
// iteration. The returned events are EventConnectionLost at most once.
func (s *Session) Tick(now time.Time) []Event {
	if s.closed || s.lost {
		return nil
	}

	for _, ch := range [...]protocol.Channel{protocol.ReliableUnordered, protocol.ReliableOrdered} {
		t := s.trackers[ch]
		due, exhausted := t.Due(now, s.opts.retry)
		if exhausted {
			return s.markLost(fmt.Errorf("%w on %s after %d retries", ErrRetriesExhausted, ch, s.opts.retry.MaxRetries))
		}
		for _, p := range due {
			s.retransmit(t, p)
		}
		if t.NeedsAck() {
			highest, _ := t.Highest()
			if err := s.sendAck(t, highest); err != nil {
				util.LogDebug("[%08x] %v", s.opts.id, err)
			}
		}
	}

	for ch := range protocol.ChannelCount {
		if n := s.frags[ch].Evict(now); n > 0 {
			s.opts.metrics.FragmentsEvicted(n)
			util.LogDebug("[%08x] evicted %d incomplete messages on %s", s.opts.id, n, protocol.Channel(ch))
		}
	}

	if s.opts.idleTimeout > 0 && now.Sub(s.lastRecv) >= s.opts.idleTimeout {
		return s.markLost(fmt.Errorf("%w for %v", ErrIdleTimeout, now.Sub(s.lastRecv).Round(time.Millisecond)))
	}
	return nil
}

// retransmit sends p again with its original sequence number and fresh ack
// fields.
func (s *Session) retransmit(t *reliability.Tracker, p *reliability.Pending) {
	t.Stamp(&p.Packet.Header)
	data := protocol.EncodePacket(p.Packet)
	if err := s.write(data, t.Channel()); err != nil {
		util.LogDebug("[%08x] retransmit seq %d: %v", s.opts.id, p.Seq, err)
		return
	}
	s.counters.Retransmits++
	s.opts.metrics.Retransmit()
}

func (s *Session) markLost(err error) []Event {
	s.lost = true
	s.opts.metrics.SessionLost()
	util.LogWarning("[%08x] connection to %v lost: %v", s.opts.id, s.peer, err)
	return []Event{{Kind: EventConnectionLost, From: s.peer, Err: fmt.Errorf("%w: %w", ErrLost, err)}}
}
