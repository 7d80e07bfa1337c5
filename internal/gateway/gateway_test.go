package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/util"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// newTestGateway returns a function that opens a client connected to a
// fresh in-memory gateway through net.Pipe.
func newTestGateway(t *testing.T) func() *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(NewMemoryStore())

	return func() *Client {
		a, b := net.Pipe()
		go srv.ServeConn(ctx, b)
		c := NewClient(a)
		t.Cleanup(func() { c.Close() })
		return c
	}
}

func TestGatewayGameLifecycle(t *testing.T) {
	connect := newTestGateway(t)
	player, other, gs := connect(), connect(), connect()

	if _, err := player.Create(protocol.GameRType); !errors.Is(err, ErrRefused) {
		t.Fatalf("Create without servers: %v", err)
	}

	id, err := gs.Register(4242, 2)
	if err != nil || id != 1 {
		t.Fatalf("Register = %d, %v", id, err)
	}

	want := protocol.GameAssigned{GameID: 1, Port: 4242, Host: "pipe"}
	got, err := player.Create(protocol.GameRType)
	if err != nil || got != want {
		t.Fatalf("Create = %+v, %v", got, err)
	}
	if m, err := gs.Next(); err != nil || m != want {
		t.Fatalf("game server notified with %+v, %v", m, err)
	}

	if got, err := other.Join(1); err != nil || got != want {
		t.Fatalf("Join = %+v, %v", got, err)
	}
	if _, err := other.Join(99); err == nil || !strings.Contains(err.Error(), ReasonNoGame) {
		t.Fatalf("Join unknown game: %v", err)
	}

	occ := protocol.Occupancy{GameID: 1, Players: 8, Capacity: 8}
	if err := gs.Occupancy(1, 8, 8); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{player, other} {
		if m, err := c.Next(); err != nil || m != occ {
			t.Fatalf("occupancy broadcast = %+v, %v", m, err)
		}
	}
	if _, err := player.Join(1); err == nil || !strings.Contains(err.Error(), ReasonGameFull) {
		t.Fatalf("Join full game: %v", err)
	}

	if err := gs.EndGame(1); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{player, other} {
		if m, err := c.Next(); err != nil || m != (protocol.GameEnded{GameID: 1}) {
			t.Fatalf("game end broadcast = %+v, %v", m, err)
		}
	}
	if _, err := player.Join(1); err == nil || !strings.Contains(err.Error(), ReasonGameEnded) {
		t.Fatalf("Join ended game: %v", err)
	}
}

func TestGatewayServerDisconnectEndsGames(t *testing.T) {
	connect := newTestGateway(t)
	player, gs := connect(), connect()

	if _, err := gs.Register(5000, 4); err != nil {
		t.Fatal(err)
	}
	game, err := player.Create(protocol.GameRType)
	if err != nil {
		t.Fatal(err)
	}
	gs.Next()
	gs.Close()

	m, err := player.Next()
	if err != nil || m != (protocol.GameEnded{GameID: game.GameID}) {
		t.Fatalf("after disconnect got %+v, %v", m, err)
	}
	if _, err := player.Create(protocol.GameRType); !errors.Is(err, ErrRefused) {
		t.Errorf("Create after server left: %v", err)
	}
}

func TestGatewayPicksFreestServer(t *testing.T) {
	connect := newTestGateway(t)
	player, small, large := connect(), connect(), connect()

	small.Register(1111, 1)
	large.Register(2222, 3)

	for i, port := range []uint16{2222, 2222, 1111, 2222} {
		got, err := player.Create(protocol.GameRType)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if got.Port != port {
			t.Errorf("create %d placed on %d, want %d", i, got.Port, port)
		}
	}
	if _, err := player.Create(protocol.GameRType); !errors.Is(err, ErrRefused) {
		t.Errorf("Create with all servers full: %v", err)
	}
}

func TestGatewayRefusesZeroCapacity(t *testing.T) {
	connect := newTestGateway(t)
	gs := connect()
	if _, err := gs.Register(1, 0); !errors.Is(err, ErrRefused) {
		t.Fatalf("Register with zero capacity: %v", err)
	}
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLStore(filepath.Join(t.TempDir(), "games.db"))
			if err != nil {
				if strings.Contains(err.Error(), "cgo") {
					t.Skip("sqlite3 needs cgo")
				}
				t.Fatal(err)
			}
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			g1, err := s.CreateGame(ctx, 1, protocol.GameRType, 4)
			if err != nil {
				t.Fatal(err)
			}
			g2, _ := s.CreateGame(ctx, 2, protocol.GameRType, 4)
			g3, _ := s.CreateGame(ctx, 1, protocol.GameRType, 4)
			if g1.ID == g2.ID || g2.ID == g3.ID {
				t.Fatalf("ids not unique: %d %d %d", g1.ID, g2.ID, g3.ID)
			}

			if err := s.UpdateOccupancy(ctx, g1.ID, 4, 6); err != nil {
				t.Fatal(err)
			}
			got, err := s.Game(ctx, g1.ID)
			if err != nil || got.Players != 4 || got.Capacity != 6 || got.Full() {
				t.Fatalf("Game = %+v, %v", got, err)
			}

			if _, err := s.Game(ctx, 999); !errors.Is(err, ErrGameNotFound) {
				t.Errorf("missing game: %v", err)
			}
			if err := s.EndGame(ctx, 999); !errors.Is(err, ErrGameNotFound) {
				t.Errorf("end missing game: %v", err)
			}

			ended, err := s.EndServerGames(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(ended) != 2 {
				t.Errorf("ended %v, want two games", ended)
			}
			if n, _ := s.ActiveGames(ctx); n != 1 {
				t.Errorf("ActiveGames = %d, want 1", n)
			}

			if err := s.EndGame(ctx, g2.ID); err != nil {
				t.Fatal(err)
			}
			got, _ = s.Game(ctx, g2.ID)
			if !got.Ended {
				t.Error("game not ended")
			}
			if again, _ := s.EndServerGames(ctx, 2); len(again) != 0 {
				t.Errorf("ended games ended again: %v", again)
			}
		})
	}
}
