package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/util"
)

const tracerName = "github.com/1ureka/rtnet/internal/gateway"

// DefaultGameCapacity is the player capacity a new game starts with, until
// its server reports occupancy.
const DefaultGameCapacity = 8

// Refusal reasons sent in *_KO frames.
const (
	ReasonNoServer   = "no game server available"
	ReasonNoGame     = "no such game"
	ReasonGameEnded  = "game ended"
	ReasonGameFull   = "game full"
	ReasonNoCapacity = "capacity must be positive"
)

// gameServer is a registered game server. games counts its running games.
type gameServer struct {
	id       uint32
	conn     *conn
	host     string
	port     uint16
	capacity uint8
	games    int
}

func (g *gameServer) free() int { return int(g.capacity) - g.games }

// Server is the gateway. Every TCP connection is either a player client or,
// once it sends GS, a game server.
type Server struct {
	store        Store
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	gameCapacity uint8

	mu         sync.Mutex
	nextServer uint32
	servers    map[uint32]*gameServer
	conns      map[*conn]struct{}
	wg         sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics records frames, games and servers in m.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithGameCapacity sets the initial player capacity of new games.
func WithGameCapacity(n uint8) ServerOption {
	return func(s *Server) { s.gameCapacity = n }
}

// WithTracerProvider traces frames with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(s *Server) { s.tracer = tp.Tracer(tracerName) }
}

// NewServer returns a gateway backed by store.
func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{
		store:        store,
		tracer:       otel.Tracer(tracerName),
		gameCapacity: DefaultGameCapacity,
		servers:      make(map[uint32]*gameServer),
		conns:        make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	util.LogInfo("gateway listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// every connection handler to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer s.wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, c)
		}()
	}
}

// ServeConn handles one connection until it closes or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	c := newConn(ctx, nc)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	util.LogDebug("gateway connection from %s", nc.RemoteAddr())

	defer s.disconnect(c)

	for {
		f, err := protocol.ReadFrame(nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && c.ctx.Err() == nil {
				util.LogWarning("gateway connection %s: %v", nc.RemoteAddr(), err)
			}
			return
		}
		if err := s.handle(ctx, c, f); err != nil {
			util.LogWarning("gateway %s from %s: %v", f.Type, nc.RemoteAddr(), err)
		}
	}
}

// handle dispatches one frame inside its own span.
func (s *Server) handle(ctx context.Context, c *conn, f *protocol.Frame) (err error) {
	s.metrics.GatewayFrame(f.Type.String())

	ctx, span := s.tracer.Start(ctx, "gateway."+f.Type.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer", c.remote())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	m, err := protocol.DecodeFrameMessage(f)
	if err != nil {
		return err
	}

	switch m := m.(type) {
	case protocol.ServerHello:
		return s.register(c, m)
	case protocol.CreateGame:
		span.SetAttributes(attribute.Int("game.type", int(m.GameType)))
		return s.create(ctx, c, m)
	case protocol.JoinGame:
		span.SetAttributes(attribute.Int64("game.id", int64(m.GameID)))
		return s.join(ctx, c, m)
	case protocol.Occupancy:
		span.SetAttributes(attribute.Int64("game.id", int64(m.GameID)))
		return s.occupancy(ctx, c, m)
	case protocol.GameEnded:
		span.SetAttributes(attribute.Int64("game.id", int64(m.GameID)))
		return s.endGame(ctx, c, m.GameID)
	default:
		return fmt.Errorf("unexpected %s frame", f.Type)
	}
}

// register adds or refreshes the game server on c.
func (s *Server) register(c *conn, m protocol.ServerHello) error {
	if m.Capacity == 0 {
		return c.send(protocol.ServerRefused{Reason: ReasonNoCapacity})
	}

	s.mu.Lock()
	gs := c.server
	if gs == nil {
		s.nextServer++
		gs = &gameServer{id: s.nextServer, conn: c, host: c.host()}
		s.servers[gs.id] = gs
		c.server = gs
		util.LogEvent("game server registered", "server", gs.id, "addr", c.remote(), "capacity", m.Capacity)
	}
	gs.port, gs.capacity = m.UDPPort, m.Capacity
	servers := len(s.servers)
	s.mu.Unlock()

	s.metrics.SetServersActive(servers)
	return c.send(protocol.ServerAccepted{ServerID: gs.id})
}

// create places a new game on the server with the most free capacity.
func (s *Server) create(ctx context.Context, c *conn, m protocol.CreateGame) error {
	s.mu.Lock()
	var best *gameServer
	for _, gs := range s.servers {
		if gs.free() > 0 && (best == nil || gs.free() > best.free() || gs.free() == best.free() && gs.id < best.id) {
			best = gs
		}
	}
	if best == nil {
		s.mu.Unlock()
		return c.send(protocol.CreateRefused{Reason: ReasonNoServer})
	}
	best.games++
	s.mu.Unlock()

	g, err := s.store.CreateGame(ctx, best.id, m.GameType, s.gameCapacity)
	if err != nil {
		s.mu.Lock()
		best.games--
		s.mu.Unlock()
		c.send(protocol.CreateRefused{Reason: "internal error"})
		return fmt.Errorf("create game: %w", err)
	}
	s.updateGames(ctx)
	util.LogEvent("game created", "game", g.ID, "type", g.Type, "server", best.id)

	assigned := protocol.GameAssigned{GameID: g.ID, Port: best.port, Host: best.host}
	if err := best.conn.send(assigned); err != nil {
		util.LogWarning("notify game server %d: %v", best.id, err)
	}
	return c.send(assigned)
}

// join answers with the game's server if the game can take a player.
func (s *Server) join(ctx context.Context, c *conn, m protocol.JoinGame) error {
	g, err := s.store.Game(ctx, m.GameID)
	switch {
	case errors.Is(err, ErrGameNotFound):
		return c.send(protocol.JoinRefused{Reason: ReasonNoGame})
	case err != nil:
		c.send(protocol.JoinRefused{Reason: "internal error"})
		return fmt.Errorf("join game %d: %w", m.GameID, err)
	case g.Ended:
		return c.send(protocol.JoinRefused{Reason: ReasonGameEnded})
	case g.Full():
		return c.send(protocol.JoinRefused{Reason: ReasonGameFull})
	}

	s.mu.Lock()
	gs, ok := s.servers[g.ServerID]
	s.mu.Unlock()
	if !ok {
		return c.send(protocol.JoinRefused{Reason: ReasonGameEnded})
	}
	return c.send(protocol.GameAssigned{GameID: g.ID, Port: gs.port, Host: gs.host})
}

// occupancy records a game server's player count and relays it to clients.
func (s *Server) occupancy(ctx context.Context, c *conn, m protocol.Occupancy) error {
	if err := s.ownGame(ctx, c, m.GameID); err != nil {
		return err
	}
	if err := s.store.UpdateOccupancy(ctx, m.GameID, m.Players, m.Capacity); err != nil {
		return err
	}
	s.broadcast(m)
	return nil
}

// endGame ends a game on request of its server and tells every client.
func (s *Server) endGame(ctx context.Context, c *conn, id uint32) error {
	if err := s.ownGame(ctx, c, id); err != nil {
		return err
	}
	g, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if g.Ended {
		return nil
	}
	if err := s.store.EndGame(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if c.server.games > 0 {
		c.server.games--
	}
	s.mu.Unlock()

	s.updateGames(ctx)
	util.LogEvent("game ended", "game", id, "server", c.server.id)
	s.broadcast(protocol.GameEnded{GameID: id})
	return nil
}

// ownGame checks that c is the registered server hosting game id.
func (s *Server) ownGame(ctx context.Context, c *conn, id uint32) error {
	s.mu.Lock()
	gs := c.server
	s.mu.Unlock()
	if gs == nil {
		return errors.New("sender is not a registered game server")
	}
	g, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if g.ServerID != gs.id {
		return fmt.Errorf("game %d belongs to server %d", id, g.ServerID)
	}
	return nil
}

// broadcast sends m to every connection that is not a game server.
func (s *Server) broadcast(m protocol.SessionMessage) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c.server == nil {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(m); err != nil {
			util.LogDebug("broadcast %s to %s: %v", m.Type(), c.remote(), err)
		}
	}
}

// disconnect forgets c. A game server's running games end with it.
func (s *Server) disconnect(c *conn) {
	c.close()

	s.mu.Lock()
	delete(s.conns, c)
	gs := c.server
	if gs != nil {
		delete(s.servers, gs.id)
	}
	servers := len(s.servers)
	s.mu.Unlock()

	if gs == nil {
		return
	}
	s.metrics.SetServersActive(servers)
	util.LogEvent("game server gone", "server", gs.id, "addr", c.remote())

	ctx := context.Background()
	ids, err := s.store.EndServerGames(ctx, gs.id)
	if err != nil {
		util.LogError("failed to end games of server %d: %v", gs.id, err)
		return
	}
	for _, id := range ids {
		s.broadcast(protocol.GameEnded{GameID: id})
	}
	s.updateGames(ctx)
}

func (s *Server) updateGames(ctx context.Context) {
	n, err := s.store.ActiveGames(ctx)
	if err != nil {
		util.LogDebug("count active games: %v", err)
		return
	}
	s.metrics.SetGamesActive(n)
}
