// Package app contains the top-level orchestration for the game server and
// client roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

// Server is the game endpoint. UDP, WebSocket and WebRTC peers all feed one
// dispatch bridge, and the event loop answers them.
type Server struct {
	cfg    config.Config
	bridge *dispatch.Bridge
	ws     *transport.WS
	signal *signaling.Handler
	udp    *transport.UDP

	mu    sync.Mutex
	gw    *gateway.Client // nil unless announced
	lobby *lobby
}

// NewServer builds a server whose bridge lives until ctx is cancelled. No
// socket is opened until ListenUDP.
func NewServer(ctx context.Context, cfg config.Config, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:    cfg,
		bridge: dispatch.New(ctx, cfg.BridgeOptions(m)...),
		ws:     transport.NewWS(ctx, transport.WithReadLimit(cfg.MaxDatagram)),
		lobby:  newLobby(cfg.GameCapacity),
	}
	s.bridge.Attach(s.ws)
	s.signal = signaling.NewHandler(ctx, cfg.SignalPIN, func(tr *transport.RTC) {
		idx := s.bridge.Attach(tr)
		util.LogDebug("WebRTC transport %s attached as %d", tr.RemoteAddr(), idx)
	}, transport.WithReadLimit(cfg.MaxDatagram))
	return s
}

// ListenUDP opens the UDP endpoint and attaches it to the bridge.
func (s *Server) ListenUDP(ctx context.Context) (net.Addr, error) {
	u, err := transport.ListenUDP(ctx, s.cfg.UDPAddr, transport.WithReadLimit(s.cfg.MaxDatagram))
	if err != nil {
		return nil, err
	}
	s.udp = u
	s.bridge.Attach(u)
	return u.LocalAddr(), nil
}

// Attach adds another datagram transport to the server's bridge.
func (s *Server) Attach(t dispatch.Transport) int {
	return s.bridge.Attach(t)
}

// Routes returns the HTTP side of the server: Prometheus metrics from g,
// the WebSocket transport and WebRTC signaling.
func (s *Server) Routes(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Handle("/ws", s.ws)
	r.Handle("/signal", s.signal)
	return r
}

// ListenHTTP serves Routes on addr until ctx is cancelled.
func (s *Server) ListenHTTP(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("HTTP listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP on %s: %w", addr, err)
	}
	return nil
}

// Run answers peer events until ctx is cancelled, then closes the bridge.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()
	for {
		select {
		case ev, ok := <-s.bridge.Events():
			if !ok {
				return nil
			}
			s.handle(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) handle(ev dispatch.Event) {
	if ev.Kind == session.EventConnectionLost {
		util.LogEvent("peer lost", "peer", ev.Peer.String(), "err", ev.Err)
		s.unseat(ev.Peer)
		return
	}

	switch m := ev.Message.(type) {
	case protocol.Join:
		util.LogEvent("peer joined", "peer", ev.Peer.String(), "version", m.Version)
		s.seat(ev.Peer)
	case protocol.Leave:
		util.LogEvent("peer left", "peer", ev.Peer.String())
		s.unseat(ev.Peer)
		s.bridge.Disconnect(ev.Peer)
		return
	}

	reply, ok := Reply(ev.Message)
	if !ok {
		util.LogDebug("%s from %s", ev.Message.Command(), ev.Peer)
		return
	}
	if err := s.bridge.Send(ev.Peer, reply); err != nil {
		util.LogWarning("reply %s to %s: %v", reply.Command(), ev.Peer, err)
	}
}

// seat places a joining peer in a hosted game and reports the new player
// count to the gateway.
func (s *Server) seat(p dispatch.Peer) {
	s.mu.Lock()
	occ, ok := s.lobby.seat(p.String())
	gw := s.gw
	s.mu.Unlock()
	if !ok {
		return
	}
	util.LogEvent("peer seated", "peer", p.String(), "game", occ.GameID, "players", occ.Players)
	if gw == nil {
		return
	}
	if err := gw.Occupancy(occ.GameID, occ.Players, occ.Capacity); err != nil {
		util.LogWarning("report occupancy of game %d: %v", occ.GameID, err)
	}
}

// unseat removes a departing peer from its game. The gateway hears the new
// player count, and the end of the game once its last player is gone.
func (s *Server) unseat(p dispatch.Peer) {
	s.mu.Lock()
	occ, ended, ok := s.lobby.unseat(p.String())
	gw := s.gw
	s.mu.Unlock()
	if !ok || gw == nil {
		return
	}
	if err := gw.Occupancy(occ.GameID, occ.Players, occ.Capacity); err != nil {
		util.LogWarning("report occupancy of game %d: %v", occ.GameID, err)
	}
	if !ended {
		return
	}
	util.LogEvent("game over", "game", occ.GameID)
	if err := gw.EndGame(occ.GameID); err != nil {
		util.LogWarning("report end of game %d: %v", occ.GameID, err)
	}
}

// Reply returns the server's answer to m: chat is echoed and PING is
// answered with PONG. Everything else has no answer.
func Reply(m protocol.Message) (protocol.Message, bool) {
	switch m := m.(type) {
	case protocol.Chat:
		return m, true
	case protocol.Ping:
		return protocol.Pong{}, true
	default:
		return nil, false
	}
}

// Announce registers the server with the gateway at addr with room for the
// given number of games. Games the gateway places here are opened for
// joining peers, and their player counts are reported back until ctx is
// cancelled.
func (s *Server) Announce(ctx context.Context, addr string, games uint8) error {
	if s.udp == nil {
		return errors.New("UDP endpoint not listening")
	}
	port := s.udp.LocalAddr().(*net.UDPAddr).Port

	c, err := gateway.Dial(ctx, addr)
	if err != nil {
		return err
	}
	util.LogInfo("connected to gateway %s", addr)
	return s.serveGateway(ctx, c, uint16(port), games)
}

// serveGateway registers on c and follows its game placements until c
// fails or ctx is cancelled.
func (s *Server) serveGateway(ctx context.Context, c *gateway.Client, port uint16, games uint8) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	id, err := c.Register(port, games)
	if err != nil {
		return err
	}
	util.LogSuccess("registered with gateway as server %d", id)

	s.mu.Lock()
	s.gw = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.gw = nil
		s.mu.Unlock()
	}()

	for {
		m, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway connection lost: %w", err)
		}
		g, ok := m.(protocol.GameAssigned)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.lobby.place(g.GameID)
		occ := s.lobby.occupancy(g.GameID)
		s.mu.Unlock()

		util.LogEvent("game placed", "game", g.GameID)
		if err := c.Occupancy(occ.GameID, occ.Players, occ.Capacity); err != nil {
			util.LogWarning("report occupancy of game %d: %v", g.GameID, err)
		}
	}
}

// Close stops the bridge and every transport it owns.
func (s *Server) Close() error {
	err := s.bridge.Close()
	if s.udp != nil {
		err = errors.Join(err, s.udp.Close())
	}
	return errors.Join(err, s.ws.Close())
}
