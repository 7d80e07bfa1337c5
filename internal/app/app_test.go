package app

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/gateway"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestReply(t *testing.T) {
	tests := []struct {
		name string
		in   protocol.Message
		want protocol.Message
		ok   bool
	}{
		{"chat echoed", protocol.Chat{Text: "hi"}, protocol.Chat{Text: "hi"}, true},
		{"ping answered", protocol.Ping{}, protocol.Pong{}, true},
		{"pong ignored", protocol.Pong{}, nil, false},
		{"input ignored", protocol.Input{Type: protocol.InputShoot, Value: 1}, nil, false},
		{"join ignored", protocol.Join{Version: 1}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reply(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Reply(%#v) = %#v, %v; want %#v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestServerAnswersGreeting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	clientEnd, serverEnd := transport.NewNamedPipe("client", "server")

	srv := NewServer(ctx, cfg, nil)
	srv.Attach(serverEnd)
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	b := dispatch.New(ctx, cfg.BridgeOptions(nil)...)
	defer b.Close()
	peer, err := b.Connect(b.Attach(clientEnd), serverEnd.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range greeting(cfg, "gg") {
		if err := b.Send(peer, m); err != nil {
			t.Fatalf("send %s: %v", m.Command(), err)
		}
	}

	var gotChat, gotPong bool
	timeout := time.After(3 * time.Second)
	for !gotChat || !gotPong {
		select {
		case ev := <-b.Events():
			if ev.Kind != session.EventPacket {
				t.Fatalf("unexpected %s event: %v", ev.Kind, ev.Err)
			}
			switch m := ev.Message.(type) {
			case protocol.Chat:
				if m.Text != "gg" {
					t.Errorf("echo = %q", m.Text)
				}
				gotChat = true
			case protocol.Pong:
				gotPong = true
			default:
				t.Errorf("unexpected %#v", m)
			}
		case <-timeout:
			t.Fatalf("timed out: chat=%v pong=%v", gotChat, gotPong)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGreeting(t *testing.T) {
	cfg := config.Default()
	msgs := greeting(cfg, "")

	want := []protocol.Command{protocol.CmdJoin, protocol.CmdInput, protocol.CmdChat, protocol.CmdPing}
	if len(msgs) != len(want) {
		t.Fatalf("greeting has %d messages", len(msgs))
	}
	for i, m := range msgs {
		if m.Command() != want[i] {
			t.Errorf("message %d = %s, want %s", i, m.Command(), want[i])
		}
	}
	if j := msgs[0].(protocol.Join); j.Version != cfg.ProtocolVersion {
		t.Errorf("join version = %d", j.Version)
	}
	if c := msgs[2].(protocol.Chat); c.Text != "hello" {
		t.Errorf("default chat = %q", c.Text)
	}
}

func TestLobby(t *testing.T) {
	l := newLobby(2)
	if _, ok := l.seat("a"); ok {
		t.Fatal("seated with no game open")
	}
	l.place(1)
	l.place(2)
	l.place(1)

	seats := []struct {
		peer string
		want protocol.Occupancy
	}{
		{"a", protocol.Occupancy{GameID: 1, Players: 1, Capacity: 2}},
		{"b", protocol.Occupancy{GameID: 1, Players: 2, Capacity: 2}},
		{"c", protocol.Occupancy{GameID: 2, Players: 1, Capacity: 2}},
	}
	for _, tt := range seats {
		if got, ok := l.seat(tt.peer); !ok || got != tt.want {
			t.Errorf("seat(%q) = %+v, %v; want %+v", tt.peer, got, ok, tt.want)
		}
	}
	if _, ok := l.seat("a"); ok {
		t.Error("seated a twice")
	}

	unseats := []struct {
		peer  string
		want  protocol.Occupancy
		ended bool
		ok    bool
	}{
		{"a", protocol.Occupancy{GameID: 1, Players: 1, Capacity: 2}, false, true},
		{"a", protocol.Occupancy{}, false, false},
		{"b", protocol.Occupancy{GameID: 1, Players: 0, Capacity: 2}, true, true},
		{"c", protocol.Occupancy{GameID: 2, Players: 0, Capacity: 2}, true, true},
	}
	for _, tt := range unseats {
		got, ended, ok := l.unseat(tt.peer)
		if got != tt.want || ended != tt.ended || ok != tt.ok {
			t.Errorf("unseat(%q) = %+v, %v, %v; want %+v, %v, %v",
				tt.peer, got, ended, ok, tt.want, tt.ended, tt.ok)
		}
	}
	if _, ok := l.seat("d"); ok {
		t.Error("seated in an ended game")
	}
}

func TestServerReportsGamesToGateway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.NewServer(gateway.NewMemoryStore())
	connect := func() (*gateway.Client, net.Conn) {
		a, b := net.Pipe()
		go gw.ServeConn(ctx, b)
		return gateway.NewClient(a), a
	}
	hosting, _ := connect()
	player, playerConn := connect()
	defer player.Close()
	playerConn.SetDeadline(time.Now().Add(5 * time.Second))

	cfg := config.Default()
	cfg.GameCapacity = 4
	clientEnd, serverEnd := transport.NewNamedPipe("client", "server")

	srv := NewServer(ctx, cfg, nil)
	srv.Attach(serverEnd)
	go srv.Run(ctx)
	go srv.serveGateway(ctx, hosting, 4242, 2)

	var game protocol.GameAssigned
	deadline := time.Now().Add(3 * time.Second)
	for {
		var err error
		game, err = player.Create(protocol.GameRType)
		if err == nil {
			break
		}
		if !errors.Is(err, gateway.ErrRefused) || time.Now().After(deadline) {
			t.Fatalf("Create: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	expect := func(want protocol.SessionMessage) {
		t.Helper()
		m, err := player.Next()
		if err != nil || m != want {
			t.Fatalf("gateway sent %+v, %v; want %+v", m, err, want)
		}
	}
	expect(protocol.Occupancy{GameID: game.GameID, Players: 0, Capacity: 4})

	b := dispatch.New(ctx, cfg.BridgeOptions(nil)...)
	defer b.Close()
	peer, err := b.Connect(b.Attach(clientEnd), serverEnd.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Send(peer, protocol.Join{Version: cfg.ProtocolVersion}); err != nil {
		t.Fatal(err)
	}
	expect(protocol.Occupancy{GameID: game.GameID, Players: 1, Capacity: 4})

	if err := b.Send(peer, protocol.Leave{}); err != nil {
		t.Fatal(err)
	}
	expect(protocol.Occupancy{GameID: game.GameID, Players: 0, Capacity: 4})
	expect(protocol.GameEnded{GameID: game.GameID})
}
