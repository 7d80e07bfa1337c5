package dispatch

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/util"
)

type request struct {
	channel protocol.Channel
	msg     protocol.Message
}

type inbound struct {
	data []byte
	from net.Addr
}

// peer holds the state of one remote endpoint. Its session is touched only
// by the goroutine running run.
type peer struct {
	id     Peer
	bridge *Bridge

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	inbox   chan inbound
	notify  chan struct{}
	outbox  chan request
	limiter *rate.Limiter

	sess *session.Session
}

func newPeer(b *Bridge, id Peer, t Transport, opts []session.Option) (*peer, error) {
	ctx, cancel := context.WithCancel(b.ctx)
	p := &peer{
		id:      id,
		bridge:  b,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan inbound, b.opts.inboxSize),
		notify:  make(chan struct{}, 1),
		outbox:  make(chan request, b.opts.outboxSize),
		limiter: rate.NewLimiter(b.opts.peerRate, b.opts.peerBurst),
	}

	sess, err := session.Open(&peerView{peer: p, transport: t}, id.Addr, opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	p.sess = sess
	return p, nil
}

// deliver queues data for the peer goroutine and reports whether it fit.
func (p *peer) deliver(data []byte) bool {
	select {
	case p.inbox <- inbound{data: data, from: p.id.Addr}:
	default:
		return false
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

func (p *peer) submit(req request) error {
	if p.ctx.Err() != nil {
		return ErrUnknownPeer
	}
	select {
	case p.outbox <- req:
		return nil
	default:
		return ErrBusy
	}
}

// run is the single goroutine that drives the peer's session: it drains
// inbound datagrams, performs queued sends and ticks the session timers.
func (p *peer) run() {
	defer p.bridge.wg.Done()
	defer p.cleanup()

	ticker := time.NewTicker(p.bridge.opts.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.notify:
			p.drain()

		case req := <-p.outbox:
			if err := p.sess.SendOn(req.channel, req.msg); err != nil {
				util.LogWarning("[%08x] send %s to %s failed: %v", p.sess.ID(), req.msg.Command(), p.id, err)
			}

		case now := <-ticker.C:
			for _, ev := range p.sess.Tick(now) {
				p.bridge.emit(Event{Peer: p.id, Event: ev})
				if ev.Kind == session.EventConnectionLost {
					return
				}
			}

		case <-p.ctx.Done():
			return
		}
	}
}

func (p *peer) drain() {
	for {
		ev, ok := p.sess.Receive()
		if !ok {
			return
		}
		p.bridge.emit(Event{Peer: p.id, Event: ev})
	}
}

// cleanup releases the session and removes the route exactly once,
// whichever way run exits.
func (p *peer) cleanup() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.sess.Close()
		util.LogInfo("peer %s disconnected", p.id)
	})
}

// peerView is the transport as seen by one peer's session: sends go to the
// shared transport, receives come from the peer's inbox.
type peerView struct {
	peer      *peer
	transport Transport
}

func (v *peerView) SendTo(data []byte, addr net.Addr) error {
	return v.transport.SendTo(data, addr)
}

func (v *peerView) Poll() ([]byte, net.Addr, bool) {
	select {
	case in := <-v.peer.inbox:
		return in.data, in.from, true
	default:
		return nil, nil, false
	}
}
