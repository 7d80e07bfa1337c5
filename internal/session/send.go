package session

import "github.com/1ureka/rtnet/internal/protocol"

// Typed senders, one per command. Each sends on the command's default
// channel; use SendOn to pick another.

// SendInput sends INPUT carrying one input type and its value.
func (s *Session) SendInput(typ protocol.InputType, value uint8) error {
	return s.Send(protocol.Input{Type: typ, Value: value})
}

// SendSnapshot sends SNAPSHOT for world state number seq.
func (s *Session) SendSnapshot(seq uint32) error {
	return s.Send(protocol.Snapshot{Seq: seq})
}

// SendChat sends a CHAT line.
func (s *Session) SendChat(text string) error {
	return s.Send(protocol.Chat{Text: text})
}

// SendPing sends PING. The peer is expected to answer with PONG.
func (s *Session) SendPing() error { return s.Send(protocol.Ping{}) }

// SendPong answers a PING.
func (s *Session) SendPong() error { return s.Send(protocol.Pong{}) }

// SendAck explicitly acknowledges seq on ch. Acknowledgments normally travel
// in the header of every packet; Tick sends explicit ones when needed.
func (s *Session) SendAck(ch protocol.Channel, seq uint32) error {
	if s.closed {
		return ErrClosed
	}
	if !ch.Valid() {
		return ErrInvalidChannel
	}
	return s.sendAck(s.trackers[ch], seq)
}

// SendJoin announces the session's own id to the peer.
func (s *Session) SendJoin(nonce uint8) error {
	return s.Send(protocol.Join{ID: s.opts.id, Nonce: nonce, Version: s.opts.version})
}

// SendKick tells the peer it is being removed, and why.
func (s *Session) SendKick(reason string) error {
	return s.Send(protocol.Kick{Reason: reason})
}

// SendChallenge sends the CHALLENGE step of the join handshake.
func (s *Session) SendChallenge(timestamp uint64, cookie []byte) error {
	return s.Send(protocol.Challenge{Timestamp: timestamp, Cookie: cookie})
}

// SendAuth answers a CHALLENGE, echoing its cookie.
func (s *Session) SendAuth(nonce uint8, cookie []byte) error {
	return s.Send(protocol.Auth{Nonce: nonce, Cookie: cookie})
}

// SendAuthOK completes the handshake with the peer's assigned id.
func (s *Session) SendAuthOK(id uint32, sessionKey []byte) error {
	return s.Send(protocol.AuthOK{ID: id, SessionKey: sessionKey})
}

// SendResync asks the peer for a full state resend.
func (s *Session) SendResync() error { return s.Send(protocol.Resync{}) }

// SendFragment sends a raw FRAGMENT message. Large payloads given to Send are
// split by the session itself and do not need this.
func (s *Session) SendFragment(seq uint32, data []byte) error {
	return s.Send(protocol.Fragment{Seq: seq, Data: data})
}

// SendPlayerStats sends PLAYER_STATS for the local player.
func (s *Session) SendPlayerStats(hp, score, powerups uint8) error {
	return s.Send(protocol.PlayerStats{HP: hp, Score: score, Powerups: powerups})
}

// SendPlayerDeath reports that the player died.
func (s *Session) SendPlayerDeath() error { return s.Send(protocol.PlayerDeath{}) }

// SendPlayerScore reports the player's new score.
func (s *Session) SendPlayerScore(score uint8) error {
	return s.Send(protocol.PlayerScore{Score: score})
}

// SendGameEnd reports that game gameID is over.
func (s *Session) SendGameEnd(gameID uint32) error {
	return s.Send(protocol.GameEnd{GameID: gameID})
}

// SendLeave tells the peer this side is leaving.
func (s *Session) SendLeave() error { return s.Send(protocol.Leave{}) }

// SendReady marks the player ready to start.
func (s *Session) SendReady() error { return s.Send(protocol.Ready{}) }

// SendNotReady withdraws a previous READY.
func (s *Session) SendNotReady() error { return s.Send(protocol.NotReady{}) }

// SendCreate asks for a new game of the given type.
func (s *Session) SendCreate(gameType protocol.GameType) error {
	return s.Send(protocol.Create{GameType: gameType})
}

// SendCreateKO refuses a CREATE.
func (s *Session) SendCreateKO() error { return s.Send(protocol.CreateKO{}) }

// SendJoinKO refuses a JOIN.
func (s *Session) SendJoinKO() error { return s.Send(protocol.JoinKO{}) }

// SendPause pauses the game.
func (s *Session) SendPause() error { return s.Send(protocol.Pause{}) }

// SendResume resumes a paused game.
func (s *Session) SendResume() error { return s.Send(protocol.Resume{}) }

// SendLeaderboard requests the leaderboard.
func (s *Session) SendLeaderboard() error { return s.Send(protocol.Leaderboard{}) }

// SendSpectate asks to watch the game without playing.
func (s *Session) SendSpectate() error { return s.Send(protocol.Spectate{}) }
