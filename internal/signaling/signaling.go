package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

var ErrUnauthorized = errors.New("signaling: invalid PIN")

// Handler is the server side of signaling. Every WebSocket connection it
// upgrades becomes one WebRTC transport, handed to the accept callback once
// its DataChannel is open.
type Handler struct {
	ctx    context.Context
	pin    string
	accept func(*transport.RTC)
	opts   []transport.Option
}

// NewHandler returns a handler that passes established transports to
// accept. When pin is non-empty, clients must present it as the "pin" query
// parameter. Transports live until ctx is cancelled or their DataChannel
// closes.
func NewHandler(ctx context.Context, pin string, accept func(*transport.RTC), opts ...transport.Option) *Handler {
	return &Handler{ctx: ctx, pin: pin, accept: accept, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.pin != "" && r.URL.Query().Get("pin") != h.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	go func() {
		defer conn.Close()
		tr, err := establish(h.ctx, conn, false, h.opts)
		if err != nil {
			util.LogWarning("signaling with %s failed: %v", r.RemoteAddr, err)
			return
		}
		util.LogInfo("WebRTC transport %s established", tr.RemoteAddr())
		h.accept(tr)
	}()
}

// Dial connects to the signaling endpoint at url, offers a DataChannel and
// returns the transport once it is open. The WebSocket is closed before
// Dial returns.
func Dial(ctx context.Context, url string, opts ...transport.Option) (*transport.RTC, error) {
	conn, err := connect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	util.LogDebug("signaling connected: %s", url)

	return establish(ctx, conn, true, opts)
}

// establish runs the SDP/ICE exchange over conn. The offering side sends
// the offer; the other side answers from its receiver loop.
func establish(ctx context.Context, conn *websocket.Conn, offer bool, opts []transport.Option) (*transport.RTC, error) {
	tr, err := transport.NewRTC(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC transport: %w", err)
	}

	s := &sender{tr: tr, conn: conn}
	r := &receiver{tr: tr, conn: conn, sender: s}
	tr.OnICECandidate(s.sendCandidate)

	// Exits when conn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogDebug("DataChannel open, closing signaling connection")
		return tr, nil

	case err := <-errCh:
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
