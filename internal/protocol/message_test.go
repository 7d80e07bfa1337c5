package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// allMessages holds one representative record per command.
var allMessages = []Message{
	Input{Type: InputForward, Value: 1},
	Snapshot{Seq: 0xDEADBEEF},
	Chat{Text: "héllo"},
	Ping{},
	Pong{},
	Ack{Seq: 77},
	Join{ID: 0x01020304, Nonce: 9, Version: Version},
	Kick{Reason: "too many pings"},
	Challenge{Timestamp: 0x0102030405060708, Cookie: []byte{1, 2, 3}},
	Auth{Nonce: 3, Cookie: []byte{4, 5}},
	AuthOK{ID: 12, SessionKey: []byte("key")},
	Resync{},
	Fragment{Seq: 5, Data: []byte("chunk")},
	PlayerStats{HP: 3, Score: 200, Powerups: 1},
	PlayerDeath{},
	PlayerScore{Score: 99},
	GameEnd{GameID: 1234},
	Leave{},
	Ready{},
	NotReady{},
	Create{GameType: GameRType},
	CreateKO{},
	JoinKO{},
	Pause{},
	Resume{},
	Leaderboard{},
	Spectate{},
}

// TestMessageRoundTrip verifies ParseMessage inverts AppendPayload for
// every command in the vocabulary.
func TestMessageRoundTrip(t *testing.T) {
	seen := make(map[Command]bool)
	for _, m := range allMessages {
		t.Run(m.Command().String(), func(t *testing.T) {
			seen[m.Command()] = true
			got, err := ParseMessage(m.Command(), EncodeMessage(m))
			if err != nil {
				t.Fatalf("ParseMessage failed: %v", err)
			}
			if !reflect.DeepEqual(got, m) {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, m)
			}
		})
	}

	for c := CmdInput; c <= CmdSpectate; c++ {
		if !seen[c] {
			t.Errorf("command %s has no round-trip case", c)
		}
	}
}

// TestMessagePayloadShapes pins the byte layout of the non-trivial payloads.
func TestMessagePayloadShapes(t *testing.T) {
	testCases := []struct {
		msg  Message
		want []byte
	}{
		{Input{Type: InputForward, Value: 1}, []byte{1, 1}},
		{Snapshot{Seq: 2}, []byte{0, 0, 0, 2}},
		{Chat{Text: "hi"}, []byte{0, 2, 'h', 'i'}},
		{Join{ID: 1, Nonce: 2, Version: 1}, []byte{0, 0, 0, 1, 2, 1}},
		{Challenge{Timestamp: 1, Cookie: []byte{0xAA}}, []byte{0, 0, 0, 0, 0, 0, 0, 1, 0xAA}},
		{PlayerStats{HP: 1, Score: 2, Powerups: 3}, []byte{1, 2, 3}},
		{Ping{}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.msg.Command().String(), func(t *testing.T) {
			got := EncodeMessage(tc.msg)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("payload = % X, want % X", got, tc.want)
			}
		})
	}
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name    string
		cmd     Command
		payload []byte
		want    error
	}{
		{"short input", CmdInput, []byte{1}, ErrMalformedPacket},
		{"trailing bytes on ping", CmdPing, []byte{0}, ErrMalformedPacket},
		{"chat length beyond payload", CmdChat, []byte{0, 5, 'a'}, ErrMalformedPacket},
		{"chat invalid utf8", CmdChat, []byte{0, 1, 0xFF}, ErrMalformedPacket},
		{"short challenge", CmdChallenge, []byte{1, 2, 3}, ErrMalformedPacket},
		{"unknown command", Command(200), nil, ErrUnknownCommand},
		{"zero command", Command(0), nil, ErrUnknownCommand},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseMessage(tc.cmd, tc.payload); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultChannel(t *testing.T) {
	testCases := []struct {
		cmd  Command
		want Channel
	}{
		{CmdInput, UnreliableUnordered},
		{CmdSnapshot, UnreliableOrdered},
		{CmdChat, ReliableOrdered},
		{CmdJoin, ReliableUnordered},
		{CmdReady, ReliableOrdered},
	}
	for _, tc := range testCases {
		if got := DefaultChannel(tc.cmd); got != tc.want {
			t.Errorf("DefaultChannel(%s) = %s, want %s", tc.cmd, got, tc.want)
		}
	}
}

func TestFragmentPrefix(t *testing.T) {
	payload := AppendFragment(nil, FragmentInfo{Index: 1, Total: 3}, []byte("abc"))

	info, chunk, err := SplitFragment(payload)
	if err != nil {
		t.Fatalf("SplitFragment failed: %v", err)
	}
	if info != (FragmentInfo{Index: 1, Total: 3}) || string(chunk) != "abc" {
		t.Errorf("got %+v %q", info, chunk)
	}

	bad := [][]byte{
		{0, 0, 0},
		{0, 0, 0, 0},
		{0, 3, 0, 3},
	}
	for _, b := range bad {
		if _, _, err := SplitFragment(b); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("SplitFragment(% X): expected ErrMalformedPacket, got %v", b, err)
		}
	}
}

func FuzzParseMessage(f *testing.F) {
	for _, m := range allMessages {
		f.Add(uint8(m.Command()), EncodeMessage(m))
	}

	f.Fuzz(func(t *testing.T, cmd uint8, payload []byte) {
		m, err := ParseMessage(Command(cmd), payload)
		if err != nil {
			return
		}
		if !bytes.Equal(EncodeMessage(m), payload) {
			t.Fatalf("re-encoding %s changed the payload", m.Command())
		}
	})
}
