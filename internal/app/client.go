package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/gateway"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/signaling"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

// ClientOptions selects how RunClient reaches the server. Exactly one of
// Server, WSURL, SignalURL or Gateway is used, in that order of preference.
type ClientOptions struct {
	Server    string // UDP host:port
	WSURL     string // ws:// URL of the server's /ws endpoint
	SignalURL string // ws:// URL of the server's /signal endpoint
	Gateway   string // gateway host:port; a new game is created first
	Chat      string
	Wait      time.Duration // how long to wait for answers
}

// RunClient opens a session with a game server, sends JOIN, INPUT, CHAT and
// PING, and logs every event until both the chat echo and the PONG arrived,
// Wait elapsed, or ctx is cancelled.
func RunClient(ctx context.Context, cfg config.Config, opts ClientOptions, m *metrics.Metrics) error {
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}

	b := dispatch.New(ctx, cfg.BridgeOptions(m)...)
	defer b.Close()

	peer, closeTransport, err := connect(ctx, b, cfg, opts)
	if err != nil {
		return err
	}
	defer closeTransport()
	util.LogSuccess("session opened with %s", peer.Addr)

	pingSent := time.Now()
	for _, msg := range greeting(cfg, opts.Chat) {
		if _, ok := msg.(protocol.Ping); ok {
			pingSent = time.Now()
		}
		if err := b.Send(peer, msg); err != nil {
			return fmt.Errorf("send %s: %w", msg.Command(), err)
		}
	}

	timeout := time.NewTimer(opts.Wait)
	defer timeout.Stop()

	var gotPong, gotChat bool
	for !gotPong || !gotChat {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return dispatch.ErrClosed
			}
			if ev.Kind == session.EventConnectionLost {
				return ev.Err
			}
			switch msg := ev.Message.(type) {
			case protocol.Pong:
				gotPong = true
				util.LogInfo("PONG from %s in %s", ev.Peer.Addr, time.Since(pingSent).Round(time.Microsecond))
			case protocol.Chat:
				gotChat = true
				util.LogInfo("CHAT from %s: %q", ev.Peer.Addr, msg.Text)
			default:
				util.LogInfo("%s from %s on %s", msg.Command(), ev.Peer.Addr, ev.Packet.Header.Channel)
			}
		case <-timeout.C:
			return fmt.Errorf("no answer from %s within %s", peer.Addr, opts.Wait)
		case <-ctx.Done():
			return nil
		}
	}

	b.Send(peer, protocol.Leave{})
	return nil
}

// greeting is what a client sends right after opening its session.
func greeting(cfg config.Config, chat string) []protocol.Message {
	if chat == "" {
		chat = "hello"
	}
	return []protocol.Message{
		protocol.Join{Nonce: uint8(rand.IntN(256)), Version: cfg.ProtocolVersion},
		protocol.Input{Type: protocol.InputForward, Value: 1},
		protocol.Chat{Text: chat},
		protocol.Ping{},
	}
}

// connect opens the transport opts select, attaches it to b and opens a
// session with the server on it.
func connect(ctx context.Context, b *dispatch.Bridge, cfg config.Config, opts ClientOptions) (dispatch.Peer, func(), error) {
	readLimit := transport.WithReadLimit(cfg.MaxDatagram)
	noop := func() {}

	switch {
	case opts.WSURL != "":
		ws, err := transport.DialWS(ctx, opts.WSURL, readLimit)
		if err != nil {
			return dispatch.Peer{}, noop, err
		}
		peers := ws.Peers()
		if len(peers) == 0 {
			ws.Close()
			return dispatch.Peer{}, noop, errors.New("WebSocket closed before use")
		}
		p, err := b.Connect(b.Attach(ws), peers[0])
		return p, func() { ws.Close() }, err

	case opts.SignalURL != "":
		tr, err := signaling.Dial(ctx, opts.SignalURL, readLimit)
		if err != nil {
			return dispatch.Peer{}, noop, err
		}
		p, err := b.Connect(b.Attach(tr), tr.RemoteAddr())
		return p, func() { tr.Close() }, err
	}

	server := opts.Server
	if server == "" && opts.Gateway != "" {
		var err error
		if server, err = createGame(ctx, opts.Gateway); err != nil {
			return dispatch.Peer{}, noop, err
		}
	}
	if server == "" {
		return dispatch.Peer{}, noop, errors.New("no server address given")
	}

	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return dispatch.Peer{}, noop, fmt.Errorf("resolve %s: %w", server, err)
	}
	u, err := transport.ListenUDP(ctx, ":0", readLimit)
	if err != nil {
		return dispatch.Peer{}, noop, err
	}
	p, err := b.Connect(b.Attach(u), addr)
	return p, func() { u.Close() }, err
}

// createGame asks the gateway for a new game and returns the UDP address of
// the server hosting it.
func createGame(ctx context.Context, addr string) (string, error) {
	c, err := gateway.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	defer c.Close()

	g, err := c.Create(protocol.GameRType)
	if err != nil {
		return "", err
	}
	util.LogSuccess("gateway created game %d on %s:%d", g.GameID, g.Host, g.Port)
	return net.JoinHostPort(g.Host, strconv.Itoa(int(g.Port))), nil
}
