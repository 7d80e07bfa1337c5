// Package protocol defines the wire format of the game-state protocol: the
// fixed 21-byte UDP header, the command vocabulary and its typed payloads,
// and the length-prefixed TCP session frames used by the gateway.
//
// UDP header layout (big-endian, no padding):
//
//	 0       2       3       4               8              12      13      14      16              20      21
//	+-------+-------+-------+---------------+---------------+-------+-------+-------+---------------+-------+
//	| magic |version| flags |      seq      |    ackBase    |ackBits|channel| size  |      id       |command|
//	+-------+-------+-------+---------------+---------------+-------+-------+-------+---------------+-------+
//
// The payload follows the header and is exactly size bytes long.
package protocol

import "fmt"

// Wire constants.
const (
	MagicUDP uint16 = 0x4254
	MagicTCP uint16 = 0x4257

	Version uint8 = 1

	// HeaderSize is the fixed UDP header size.
	HeaderSize = 21

	// MaxPayloadSize is the largest payload the 16-bit size field can describe.
	MaxPayloadSize = 0xFFFF
)

// Flags is the header flag bitset.
type Flags uint8

const (
	FlagConn       Flags = 1 << 0
	FlagReliable   Flags = 1 << 1
	FlagFragment   Flags = 1 << 2
	FlagPing       Flags = 1 << 3
	FlagClose      Flags = 1 << 4
	FlagEncrypted  Flags = 1 << 5
	FlagCompressed Flags = 1 << 6
)

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Channel selects the ordering/reliability class of a packet. Only the low
// two bits are meaningful.
type Channel uint8

const (
	UnreliableUnordered Channel = 0b00
	UnreliableOrdered   Channel = 0b01
	ReliableUnordered   Channel = 0b10
	ReliableOrdered     Channel = 0b11
)

// ChannelCount is the number of distinct channels.
const ChannelCount = 4

// Reliable reports whether packets on c must eventually be delivered.
func (c Channel) Reliable() bool { return c&0b10 != 0 }

// Ordered reports whether packets on c are delivered in sequence order.
func (c Channel) Ordered() bool { return c&0b01 != 0 }

// Valid reports whether c fits in two bits.
func (c Channel) Valid() bool { return c <= ReliableOrdered }

func (c Channel) String() string {
	switch c {
	case UnreliableUnordered:
		return "unreliable-unordered"
	case UnreliableOrdered:
		return "unreliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Command identifies the kind of a UDP packet. Values are part of the wire
// format; changing them requires a version bump.
type Command uint8

const (
	CmdInput       Command = 1
	CmdSnapshot    Command = 2
	CmdChat        Command = 3
	CmdPing        Command = 4
	CmdPong        Command = 5
	CmdAck         Command = 6
	CmdJoin        Command = 7
	CmdKick        Command = 8
	CmdChallenge   Command = 9
	CmdAuth        Command = 10
	CmdAuthOK      Command = 11
	CmdResync      Command = 12
	CmdFragment    Command = 13
	CmdPlayerStats Command = 14
	CmdPlayerDeath Command = 15
	CmdPlayerScore Command = 16
	CmdGameEnd     Command = 17
	CmdLeave       Command = 18
	CmdReady       Command = 19
	CmdNotReady    Command = 20
	CmdCreate      Command = 21
	CmdCreateKO    Command = 22
	CmdJoinKO      Command = 23
	CmdPause       Command = 24
	CmdResume      Command = 25
	CmdLeaderboard Command = 26
	CmdSpectate    Command = 27
)

var commandNames = [...]string{
	CmdInput:       "INPUT",
	CmdSnapshot:    "SNAPSHOT",
	CmdChat:        "CHAT",
	CmdPing:        "PING",
	CmdPong:        "PONG",
	CmdAck:         "ACK",
	CmdJoin:        "JOIN",
	CmdKick:        "KICK",
	CmdChallenge:   "CHALLENGE",
	CmdAuth:        "AUTH",
	CmdAuthOK:      "AUTH_OK",
	CmdResync:      "RESYNC",
	CmdFragment:    "FRAGMENT",
	CmdPlayerStats: "PLAYER_STATS",
	CmdPlayerDeath: "PLAYER_DEATH",
	CmdPlayerScore: "PLAYER_SCORE",
	CmdGameEnd:     "GAME_END",
	CmdLeave:       "LEAVE",
	CmdReady:       "READY",
	CmdNotReady:    "NOT_READY",
	CmdCreate:      "CREATE",
	CmdCreateKO:    "CREATE_KO",
	CmdJoinKO:      "JOIN_KO",
	CmdPause:       "PAUSE",
	CmdResume:      "RESUME",
	CmdLeaderboard: "LEADERBOARD",
	CmdSpectate:    "SPECTATE",
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c >= CmdInput && c <= CmdSpectate
}

func (c Command) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// Header is the fixed UDP packet header.
type Header struct {
	Magic   uint16
	Version uint8
	Flags   Flags
	Seq     uint32
	AckBase uint32
	AckBits uint8
	Channel Channel
	Size    uint16
	ID      uint32
	Command Command
}

// Packet is one UDP datagram: a header plus an opaque payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// NewHeader returns a header with the magic and version already set.
func NewHeader(cmd Command, ch Channel, id uint32) Header {
	return Header{
		Magic:   MagicUDP,
		Version: Version,
		Channel: ch,
		ID:      id,
		Command: cmd,
	}
}
