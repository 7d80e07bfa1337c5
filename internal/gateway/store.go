// Package gateway implements the TCP session channel: a matchmaking server
// that registers game servers, assigns game ids and relays occupancy, and
// the client used by players and game servers to talk to it.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/rtnet/internal/protocol"
)

var ErrGameNotFound = errors.New("gateway: game not found")

// Game is one game registered with the gateway.
type Game struct {
	ID       uint32
	Type     protocol.GameType
	ServerID uint32
	Players  uint8
	Capacity uint8
	Ended    bool
	Created  time.Time
}

// Full reports whether no more players fit.
func (g Game) Full() bool { return g.Players >= g.Capacity }

// Store persists the game registry. Game server registrations are
// connection-scoped and stay in memory.
type Store interface {
	// CreateGame allocates a new game id on serverID.
	CreateGame(ctx context.Context, serverID uint32, typ protocol.GameType, capacity uint8) (Game, error)
	// Game returns the game with id, or ErrGameNotFound.
	Game(ctx context.Context, id uint32) (Game, error)
	UpdateOccupancy(ctx context.Context, id uint32, players, capacity uint8) error
	EndGame(ctx context.Context, id uint32) error
	// EndServerGames ends every running game of serverID and returns their ids.
	EndServerGames(ctx context.Context, serverID uint32) ([]uint32, error)
	// ActiveGames counts games that have not ended.
	ActiveGames(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is a Store that lives and dies with the process.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint32
	games  map[uint32]*Game
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[uint32]*Game)}
}

func (s *MemoryStore) CreateGame(_ context.Context, serverID uint32, typ protocol.GameType, capacity uint8) (Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	g := &Game{
		ID:       s.nextID,
		Type:     typ,
		ServerID: serverID,
		Capacity: capacity,
		Created:  time.Now(),
	}
	s.games[g.ID] = g
	return *g, nil
}

func (s *MemoryStore) Game(_ context.Context, id uint32) (Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return Game{}, ErrGameNotFound
	}
	return *g, nil
}

func (s *MemoryStore) UpdateOccupancy(_ context.Context, id uint32, players, capacity uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return ErrGameNotFound
	}
	g.Players, g.Capacity = players, capacity
	return nil
}

func (s *MemoryStore) EndGame(_ context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return ErrGameNotFound
	}
	g.Ended = true
	return nil
}

func (s *MemoryStore) EndServerGames(_ context.Context, serverID uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint32
	for _, g := range s.games {
		if g.ServerID == serverID && !g.Ended {
			g.Ended = true
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ActiveGames(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.games {
		if !g.Ended {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
