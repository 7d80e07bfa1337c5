package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// InputType is the kind of player input carried by an INPUT command.
type InputType uint8

const (
	InputForward InputType = 1
	InputUp      InputType = 2
	InputDown    InputType = 3
	InputLeft    InputType = 4
	InputRight   InputType = 5
	InputShoot   InputType = 6
)

// GameType selects the game mode for CREATE requests.
type GameType uint8

const GameRType GameType = 1

// Message is a typed command payload.
type Message interface {
	Command() Command
	// AppendPayload appends the wire form of the payload to b.
	AppendPayload(b []byte) []byte
}

// EncodeMessage returns the payload bytes of m.
func EncodeMessage(m Message) []byte {
	return m.AppendPayload(nil)
}

type (
	Input struct {
		Type  InputType
		Value uint8
	}
	Snapshot struct{ Seq uint32 }
	Chat     struct{ Text string }
	Ping     struct{}
	Pong     struct{}
	// Ack explicitly acknowledges one sequence number on the packet's channel.
	Ack  struct{ Seq uint32 }
	Join struct {
		ID      uint32
		Nonce   uint8
		Version uint8
	}
	Kick      struct{ Reason string }
	Challenge struct {
		Timestamp uint64
		Cookie    []byte
	}
	Auth struct {
		Nonce  uint8
		Cookie []byte
	}
	AuthOK struct {
		ID         uint32
		SessionKey []byte
	}
	Resync   struct{}
	Fragment struct {
		Seq  uint32
		Data []byte
	}
	PlayerStats struct {
		HP       uint8
		Score    uint8
		Powerups uint8
	}
	PlayerDeath struct{}
	PlayerScore struct{ Score uint8 }
	GameEnd     struct{ GameID uint32 }
	Leave       struct{}
	Ready       struct{}
	NotReady    struct{}
	Create      struct{ GameType GameType }
	CreateKO    struct{}
	JoinKO      struct{}
	Pause       struct{}
	Resume      struct{}
	Leaderboard struct{}
	Spectate    struct{}
)

func (Input) Command() Command       { return CmdInput }
func (Snapshot) Command() Command    { return CmdSnapshot }
func (Chat) Command() Command        { return CmdChat }
func (Ping) Command() Command        { return CmdPing }
func (Pong) Command() Command        { return CmdPong }
func (Ack) Command() Command         { return CmdAck }
func (Join) Command() Command        { return CmdJoin }
func (Kick) Command() Command        { return CmdKick }
func (Challenge) Command() Command   { return CmdChallenge }
func (Auth) Command() Command        { return CmdAuth }
func (AuthOK) Command() Command      { return CmdAuthOK }
func (Resync) Command() Command      { return CmdResync }
func (Fragment) Command() Command    { return CmdFragment }
func (PlayerStats) Command() Command { return CmdPlayerStats }
func (PlayerDeath) Command() Command { return CmdPlayerDeath }
func (PlayerScore) Command() Command { return CmdPlayerScore }
func (GameEnd) Command() Command     { return CmdGameEnd }
func (Leave) Command() Command       { return CmdLeave }
func (Ready) Command() Command       { return CmdReady }
func (NotReady) Command() Command    { return CmdNotReady }
func (Create) Command() Command      { return CmdCreate }
func (CreateKO) Command() Command    { return CmdCreateKO }
func (JoinKO) Command() Command      { return CmdJoinKO }
func (Pause) Command() Command       { return CmdPause }
func (Resume) Command() Command      { return CmdResume }
func (Leaderboard) Command() Command { return CmdLeaderboard }
func (Spectate) Command() Command    { return CmdSpectate }

func (m Input) AppendPayload(b []byte) []byte { return append(b, uint8(m.Type), m.Value) }
func (m Snapshot) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Seq)
}
func (m Chat) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Text)))
	return append(b, m.Text...)
}
func (Ping) AppendPayload(b []byte) []byte { return b }
func (Pong) AppendPayload(b []byte) []byte { return b }
func (m Ack) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Seq)
}
func (m Join) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.ID)
	return append(b, m.Nonce, m.Version)
}
func (m Kick) AppendPayload(b []byte) []byte { return append(b, m.Reason...) }
func (m Challenge) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, m.Timestamp)
	return append(b, m.Cookie...)
}
func (m Auth) AppendPayload(b []byte) []byte {
	b = append(b, m.Nonce)
	return append(b, m.Cookie...)
}
func (m AuthOK) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.ID)
	return append(b, m.SessionKey...)
}
func (Resync) AppendPayload(b []byte) []byte { return b }
func (m Fragment) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Seq)
	return append(b, m.Data...)
}
func (m PlayerStats) AppendPayload(b []byte) []byte {
	return append(b, m.HP, m.Score, m.Powerups)
}
func (PlayerDeath) AppendPayload(b []byte) []byte   { return b }
func (m PlayerScore) AppendPayload(b []byte) []byte { return append(b, m.Score) }
func (m GameEnd) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.GameID)
}
func (Leave) AppendPayload(b []byte) []byte       { return b }
func (Ready) AppendPayload(b []byte) []byte       { return b }
func (NotReady) AppendPayload(b []byte) []byte    { return b }
func (m Create) AppendPayload(b []byte) []byte    { return append(b, uint8(m.GameType)) }
func (CreateKO) AppendPayload(b []byte) []byte    { return b }
func (JoinKO) AppendPayload(b []byte) []byte      { return b }
func (Pause) AppendPayload(b []byte) []byte       { return b }
func (Resume) AppendPayload(b []byte) []byte      { return b }
func (Leaderboard) AppendPayload(b []byte) []byte { return b }
func (Spectate) AppendPayload(b []byte) []byte    { return b }

// ParseMessage decodes the payload of a packet carrying cmd into its typed
// record. Short payloads, trailing bytes and invalid UTF-8 text are reported
// as ErrMalformedPacket; unknown commands as ErrUnknownCommand.
func ParseMessage(cmd Command, payload []byte) (Message, error) {
	r := &reader{buf: payload}
	var m Message

	switch cmd {
	case CmdInput:
		m = Input{Type: InputType(r.u8()), Value: r.u8()}
	case CmdSnapshot:
		m = Snapshot{Seq: r.u32()}
	case CmdChat:
		n := int(r.u16())
		m = Chat{Text: string(r.bytes(n))}
	case CmdPing:
		m = Ping{}
	case CmdPong:
		m = Pong{}
	case CmdAck:
		m = Ack{Seq: r.u32()}
	case CmdJoin:
		m = Join{ID: r.u32(), Nonce: r.u8(), Version: r.u8()}
	case CmdKick:
		m = Kick{Reason: string(r.rest())}
	case CmdChallenge:
		m = Challenge{Timestamp: r.u64(), Cookie: r.rest()}
	case CmdAuth:
		m = Auth{Nonce: r.u8(), Cookie: r.rest()}
	case CmdAuthOK:
		m = AuthOK{ID: r.u32(), SessionKey: r.rest()}
	case CmdResync:
		m = Resync{}
	case CmdFragment:
		m = Fragment{Seq: r.u32(), Data: r.rest()}
	case CmdPlayerStats:
		m = PlayerStats{HP: r.u8(), Score: r.u8(), Powerups: r.u8()}
	case CmdPlayerDeath:
		m = PlayerDeath{}
	case CmdPlayerScore:
		m = PlayerScore{Score: r.u8()}
	case CmdGameEnd:
		m = GameEnd{GameID: r.u32()}
	case CmdLeave:
		m = Leave{}
	case CmdReady:
		m = Ready{}
	case CmdNotReady:
		m = NotReady{}
	case CmdCreate:
		m = Create{GameType: GameType(r.u8())}
	case CmdCreateKO:
		m = CreateKO{}
	case CmdJoinKO:
		m = JoinKO{}
	case CmdPause:
		m = Pause{}
	case CmdResume:
		m = Resume{}
	case CmdLeaderboard:
		m = Leaderboard{}
	case CmdSpectate:
		m = Spectate{}
	default:
		return nil, newError(KindUnknownCommand, "command %d", uint8(cmd))
	}

	if err := r.finish(cmd); err != nil {
		return nil, err
	}

	switch v := m.(type) {
	case Chat:
		if !utf8.ValidString(v.Text) {
			return nil, newError(KindMalformedPacket, "%s: invalid UTF-8 text", cmd)
		}
	case Kick:
		if !utf8.ValidString(v.Reason) {
			return nil, newError(KindMalformedPacket, "%s: invalid UTF-8 text", cmd)
		}
	}
	return m, nil
}

// DefaultChannel is the channel a command is sent on unless the caller
// overrides it.
func DefaultChannel(cmd Command) Channel {
	switch cmd {
	case CmdInput, CmdPing, CmdPong, CmdAck:
		return UnreliableUnordered
	case CmdSnapshot, CmdPlayerStats:
		return UnreliableOrdered
	case CmdChat, CmdPlayerScore, CmdLeave, CmdReady, CmdNotReady, CmdPause, CmdResume:
		return ReliableOrdered
	default:
		return ReliableUnordered
	}
}

// reader is a sticky-error cursor over a payload.
type reader struct {
	buf   []byte
	pos   int
	short bool
}

func (r *reader) take(n int) []byte {
	if r.short || n < 0 || r.pos+n > len(r.buf) {
		r.short = true
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// rest returns a copy of all remaining bytes, or nil if there are none.
func (r *reader) rest() []byte {
	n := len(r.buf) - r.pos
	if r.short || n <= 0 {
		return nil
	}
	return r.bytes(n)
}

func (r *reader) finish(what any) error {
	if r.short {
		return newError(KindMalformedPacket, "%v: payload too short (%d bytes)", what, len(r.buf))
	}
	if r.pos != len(r.buf) {
		return newError(KindMalformedPacket, "%v: %d trailing bytes", what, len(r.buf)-r.pos)
	}
	return nil
}
