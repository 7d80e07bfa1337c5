package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestFrameStreamRoundTrip(t *testing.T) {
	msgs := []SessionMessage{
		JoinGame{GameID: 7},
		JoinRefused{Reason: "game full"},
		CreateGame{GameType: GameRType},
		CreateRefused{Reason: "no game server"},
		GameEnded{GameID: 7},
		ServerHello{UDPPort: 4242, Capacity: 4},
		ServerAccepted{ServerID: 3},
		ServerRefused{Reason: "bad capacity"},
		Occupancy{GameID: 7, Players: 2, Capacity: 4},
		GameAssigned{GameID: 7, Port: 4242, Host: "10.0.0.2"},
	}

	// Write every frame back to back, then read them off the same stream:
	// the length prefix is the only delimiter.
	var stream bytes.Buffer
	for _, m := range msgs {
		if err := WriteFrame(&stream, NewFrame(m)); err != nil {
			t.Fatalf("WriteFrame(%s) failed: %v", m.Type(), err)
		}
	}

	for _, want := range msgs {
		f, err := ReadFrame(&stream)
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		got, err := DecodeFrameMessage(f)
		if err != nil {
			t.Fatalf("DecodeFrameMessage(%s) failed: %v", f.Type, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %#v, want %#v", got, want)
		}
	}

	if _, err := ReadFrame(&stream); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameBytes(t *testing.T) {
	buf, err := EncodeFrame(NewFrame(JoinGame{GameID: 1}))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	want := []byte{
		0, 0, 0, 9, // length: 5 header + 4 payload
		0x42, 0x57, 1, 0, 1,
		0, 0, 0, 1,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("EncodeFrame:\n got % X\nwant % X", buf, want)
	}
}

func TestReadFrameErrors(t *testing.T) {
	valid, _ := EncodeFrame(NewFrame(GameEnded{GameID: 1}))

	badMagic := append([]byte(nil), valid...)
	badMagic[4] = 0x00

	badVersion := append([]byte(nil), valid...)
	badVersion[6] = 9

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"length below header", []byte{0, 0, 0, 2, 0x42, 0x57}, ErrMalformedPacket},
		{"length too large", []byte{0, 0x10, 0, 0}, ErrFrameTooLarge},
		{"bad magic", badMagic, ErrUnknownMagic},
		{"bad version", badVersion, ErrUnsupportedVersion},
		{"truncated body", valid[:len(valid)-1], io.ErrUnexpectedEOF},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tc.data))
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	f := &Frame{Magic: MagicTCP, Version: Version, Type: SessJoinKO, Payload: make([]byte, MaxFrameSize)}
	if _, err := EncodeFrame(f); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func FuzzReadFrame(f *testing.F) {
	seed, _ := EncodeFrame(NewFrame(GameAssigned{GameID: 1, Port: 2, Host: "h"}))
	f.Add(seed)

	f.Fuzz(func(t *testing.T, data []byte) {
		fr, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			return
		}
		// Should not panic
		_, _ = DecodeFrameMessage(fr)
	})
}
