package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// TCP session frame layout (big-endian):
//
//	+---------------+-------+-------+-------+-------+------------------+
//	|    length     | magic |version| flags | type  | payload ...      |
//	|   (4 bytes)   |  (2)  |  (1)  |  (1)  |  (1)  |                  |
//	+---------------+-------+-------+-------+-------+------------------+
//
// length counts every byte after the length field itself, so a reader can
// find frame boundaries on the stream without any other delimiter.
const (
	FrameLengthSize = 4
	FrameHeaderSize = 5

	// MaxFrameSize bounds length to keep a hostile peer from forcing large
	// allocations.
	MaxFrameSize = 64 * 1024
)

// SessionType is the command namespace of the TCP session channel. It is
// distinct from the UDP Command vocabulary.
type SessionType uint8

const (
	SessJoin      SessionType = 1
	SessJoinKO    SessionType = 2
	SessCreate    SessionType = 3
	SessCreateKO  SessionType = 4
	SessGameEnd   SessionType = 5
	SessGS        SessionType = 20
	SessGSOK      SessionType = 21
	SessGSKO      SessionType = 22
	SessOccupancy SessionType = 23
	SessGID       SessionType = 24
)

func (t SessionType) String() string {
	switch t {
	case SessJoin:
		return "JOIN"
	case SessJoinKO:
		return "JOIN_KO"
	case SessCreate:
		return "CREATE"
	case SessCreateKO:
		return "CREATE_KO"
	case SessGameEnd:
		return "GAME_END"
	case SessGS:
		return "GS"
	case SessGSOK:
		return "GS_OK"
	case SessGSKO:
		return "GS_KO"
	case SessOccupancy:
		return "OCCUPANCY"
	case SessGID:
		return "GID"
	default:
		return fmt.Sprintf("SESS(%d)", uint8(t))
	}
}

// Frame is one TCP session frame.
type Frame struct {
	Magic   uint16
	Version uint8
	Flags   Flags
	Type    SessionType
	Payload []byte
}

// NewFrame builds a frame for m with the magic and version set.
func NewFrame(m SessionMessage) *Frame {
	return &Frame{
		Magic:   MagicTCP,
		Version: Version,
		Type:    m.Type(),
		Payload: m.AppendPayload(nil),
	}
}

// EncodeFrame serializes f including its length prefix.
func EncodeFrame(f *Frame) ([]byte, error) {
	length := FrameHeaderSize + len(f.Payload)
	if length > MaxFrameSize {
		return nil, newError(KindFrameTooLarge, "%d bytes (max %d)", length, MaxFrameSize)
	}
	buf := make([]byte, FrameLengthSize+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	binary.BigEndian.PutUint16(buf[4:6], f.Magic)
	buf[6] = f.Version
	buf[7] = uint8(f.Flags)
	buf[8] = uint8(f.Type)
	copy(buf[FrameLengthSize+FrameHeaderSize:], f.Payload)
	return buf, nil
}

// WriteFrame writes f to w with a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame from r. A frame with the wrong magic or
// version means the stream is out of sync; the caller should close it.
// I/O errors from r are returned unwrapped, so io.EOF marks a clean close.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [FrameLengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < FrameHeaderSize {
		return nil, newError(KindMalformedPacket, "frame length %d below header size", length)
	}
	if length > MaxFrameSize {
		return nil, newError(KindFrameTooLarge, "%d bytes (max %d)", length, MaxFrameSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	f := &Frame{
		Magic:   binary.BigEndian.Uint16(buf[0:2]),
		Version: buf[2],
		Flags:   Flags(buf[3]),
		Type:    SessionType(buf[4]),
		Payload: buf[FrameHeaderSize:],
	}
	if f.Magic != MagicTCP {
		return nil, newError(KindUnknownMagic, "0x%04x", f.Magic)
	}
	if f.Version != Version {
		return nil, newError(KindUnsupportedVersion, "%d", f.Version)
	}
	return f, nil
}

// SessionMessage is a typed TCP session payload.
type SessionMessage interface {
	Type() SessionType
	AppendPayload(b []byte) []byte
}

type (
	JoinGame      struct{ GameID uint32 }
	JoinRefused   struct{ Reason string }
	CreateGame    struct{ GameType GameType }
	CreateRefused struct{ Reason string }
	GameEnded     struct{ GameID uint32 }
	// ServerHello registers a game server with the gateway, or refreshes its
	// registration.
	ServerHello struct {
		UDPPort  uint16
		Capacity uint8
	}
	ServerAccepted struct{ ServerID uint32 }
	ServerRefused  struct{ Reason string }
	Occupancy      struct {
		GameID   uint32
		Players  uint8
		Capacity uint8
	}
	// GameAssigned tells a client which game server hosts its game.
	GameAssigned struct {
		GameID uint32
		Port   uint16
		Host   string
	}
)

func (JoinGame) Type() SessionType       { return SessJoin }
func (JoinRefused) Type() SessionType    { return SessJoinKO }
func (CreateGame) Type() SessionType     { return SessCreate }
func (CreateRefused) Type() SessionType  { return SessCreateKO }
func (GameEnded) Type() SessionType      { return SessGameEnd }
func (ServerHello) Type() SessionType    { return SessGS }
func (ServerAccepted) Type() SessionType { return SessGSOK }
func (ServerRefused) Type() SessionType  { return SessGSKO }
func (Occupancy) Type() SessionType      { return SessOccupancy }
func (GameAssigned) Type() SessionType   { return SessGID }

func (m JoinGame) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.GameID)
}
func (m JoinRefused) AppendPayload(b []byte) []byte { return append(b, m.Reason...) }
func (m CreateGame) AppendPayload(b []byte) []byte  { return append(b, uint8(m.GameType)) }
func (m CreateRefused) AppendPayload(b []byte) []byte {
	return append(b, m.Reason...)
}
func (m GameEnded) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.GameID)
}
func (m ServerHello) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, m.UDPPort)
	return append(b, m.Capacity)
}
func (m ServerAccepted) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.ServerID)
}
func (m ServerRefused) AppendPayload(b []byte) []byte { return append(b, m.Reason...) }
func (m Occupancy) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.GameID)
	return append(b, m.Players, m.Capacity)
}
func (m GameAssigned) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.GameID)
	b = binary.BigEndian.AppendUint16(b, m.Port)
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Host)))
	return append(b, m.Host...)
}

// ParseSessionMessage decodes the payload of a frame of type t.
func ParseSessionMessage(t SessionType, payload []byte) (SessionMessage, error) {
	r := &reader{buf: payload}
	var m SessionMessage
	var text string

	switch t {
	case SessJoin:
		m = JoinGame{GameID: r.u32()}
	case SessJoinKO:
		text = string(r.rest())
		m = JoinRefused{Reason: text}
	case SessCreate:
		m = CreateGame{GameType: GameType(r.u8())}
	case SessCreateKO:
		text = string(r.rest())
		m = CreateRefused{Reason: text}
	case SessGameEnd:
		m = GameEnded{GameID: r.u32()}
	case SessGS:
		m = ServerHello{UDPPort: r.u16(), Capacity: r.u8()}
	case SessGSOK:
		m = ServerAccepted{ServerID: r.u32()}
	case SessGSKO:
		text = string(r.rest())
		m = ServerRefused{Reason: text}
	case SessOccupancy:
		m = Occupancy{GameID: r.u32(), Players: r.u8(), Capacity: r.u8()}
	case SessGID:
		id, port := r.u32(), r.u16()
		text = string(r.bytes(int(r.u16())))
		m = GameAssigned{GameID: id, Port: port, Host: text}
	default:
		return nil, newError(KindUnknownCommand, "session type %d", uint8(t))
	}

	if err := r.finish(t); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, newError(KindMalformedPacket, "%s: invalid UTF-8 text", t)
	}
	return m, nil
}

// DecodeFrameMessage is ParseSessionMessage applied to f.
func DecodeFrameMessage(f *Frame) (SessionMessage, error) {
	return ParseSessionMessage(f.Type, f.Payload)
}
