package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtnet/internal/util"
)

// RTCAddr names the remote end of a WebRTC transport.
type RTCAddr struct {
	ID uuid.UUID
}

func (a RTCAddr) Network() string { return "webrtc" }
func (a RTCAddr) String() string  { return "webrtc://" + a.ID.String() }

// RTC wraps a single PeerConnection + DataChannel pair as a datagram
// transport with exactly one peer. Signaling (SDP/ICE exchange) is done by
// the caller through the exposed methods; see the signaling package.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type RTC struct {
	*queue
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	peer RTCAddr

	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewRTC creates an RTC transport backed by a new PeerConnection and a
// pre-negotiated DataChannel.
//
// The transport is considered alive as long as the DataChannel is open and
// ctx has not been cancelled.
func NewRTC(ctx context.Context, opts ...Option) (*RTC, error) {
	o := applyOptions(opts)

	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &RTC{
		queue:      newQueue(o.queueSize),
		pc:         pc,
		dc:         dc,
		peer:       RTCAddr{ID: uuid.New()},
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel to %s closed", t.peer)
		tCancel()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString || len(msg.Data) > o.readLimit {
			return
		}
		t.push(msg.Data, t.peer)
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection to %s: %s", t.peer, state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	// Start the sender goroutine.
	t.sender = newSender(tCtx, dc, t.openSignal)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the transport is ready to send and receive.
func (t *RTC) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *RTC) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *RTC) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *RTC) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// RemoteAddr returns the address inbound datagrams are reported from.
func (t *RTC) RemoteAddr() net.Addr { return t.peer }

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *RTC) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *RTC) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *RTC) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *RTC) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *RTC) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *RTC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// SendTo enqueues data for the peer. addr must be nil or RemoteAddr.
func (t *RTC) SendTo(data []byte, addr net.Addr) error {
	if addr != nil && addr.String() != t.peer.String() {
		return ErrUnknownPeer
	}
	return t.sender.send(t.ctx, data)
}
