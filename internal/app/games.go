package app

import (
	"maps"
	"slices"

	"github.com/1ureka/rtnet/internal/protocol"
)

// lobby tracks which peers play in which of the games the gateway placed on
// this server. It is not safe for concurrent use.
type lobby struct {
	capacity uint8
	games    map[uint32]map[string]struct{} // game id -> peers
	seats    map[string]uint32              // peer -> game id
}

func newLobby(capacity uint8) *lobby {
	return &lobby{
		capacity: capacity,
		games:    make(map[uint32]map[string]struct{}),
		seats:    make(map[string]uint32),
	}
}

// place opens game id with no players. Placing an open game again is a
// no-op.
func (l *lobby) place(id uint32) {
	if _, ok := l.games[id]; !ok {
		l.games[id] = make(map[string]struct{})
	}
}

// seat puts peer in the open game with the lowest id that has room, and
// returns that game's new occupancy. It fails when peer is already seated
// or every game is full.
func (l *lobby) seat(peer string) (protocol.Occupancy, bool) {
	if _, ok := l.seats[peer]; ok {
		return protocol.Occupancy{}, false
	}
	for _, id := range slices.Sorted(maps.Keys(l.games)) {
		players := l.games[id]
		if len(players) >= int(l.capacity) {
			continue
		}
		players[peer] = struct{}{}
		l.seats[peer] = id
		return l.occupancy(id), true
	}
	return protocol.Occupancy{}, false
}

// unseat removes peer from its game. A game left empty is closed and ended
// is set.
func (l *lobby) unseat(peer string) (occ protocol.Occupancy, ended, ok bool) {
	id, ok := l.seats[peer]
	if !ok {
		return protocol.Occupancy{}, false, false
	}
	delete(l.seats, peer)
	players := l.games[id]
	delete(players, peer)

	occ = l.occupancy(id)
	if len(players) == 0 {
		delete(l.games, id)
		ended = true
	}
	return occ, ended, true
}

func (l *lobby) occupancy(id uint32) protocol.Occupancy {
	return protocol.Occupancy{GameID: id, Players: uint8(len(l.games[id])), Capacity: l.capacity}
}
