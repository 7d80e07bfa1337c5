package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// pollWithin waits on readable and polls until a datagram arrives or the
// timeout expires.
func pollWithin(t *testing.T, q interface {
	Poll() ([]byte, net.Addr, bool)
	Readable() <-chan struct{}
}, timeout time.Duration) ([]byte, net.Addr) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if data, from, ok := q.Poll(); ok {
			return data, from
		}
		select {
		case <-q.Readable():
		case <-deadline:
			t.Fatal("timed out waiting for datagram")
			return nil, nil
		}
	}
}

func TestQueueBounded(t *testing.T) {
	q := newQueue(2)
	if !q.push([]byte{1}, nil) || !q.push([]byte{2}, nil) {
		t.Fatal("push into empty queue failed")
	}
	if q.push([]byte{3}, nil) {
		t.Fatal("push into full queue succeeded")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}

	select {
	case <-q.Readable():
	default:
		t.Fatal("Readable not signalled")
	}

	for _, want := range []byte{1, 2} {
		data, _, ok := q.Poll()
		if !ok || data[0] != want {
			t.Fatalf("Poll = %v %v, want %d", data, ok, want)
		}
	}
	if _, _, ok := q.Poll(); ok {
		t.Error("Poll on empty queue returned a datagram")
	}
}

func TestPipe(t *testing.T) {
	a, b := NewPipe()

	msg := []byte("hello")
	if err := a.SendTo(msg, b.LocalAddr()); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	msg[0] = 'X' // the pipe must have copied

	data, from, ok := b.Poll()
	if !ok || string(data) != "hello" || from.String() != "a" {
		t.Fatalf("Poll = %q %v %v", data, from, ok)
	}

	if err := a.SendTo(msg, PipeAddr("c")); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}

	a.SetFilter(func([]byte) bool { return false })
	a.SendTo([]byte("lost"), nil)
	if _, _, ok := b.Poll(); ok {
		t.Error("filtered datagram was delivered")
	}

	b.Close()
	if err := a.SendTo(msg, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestUDPLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := ListenUDP(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer server.Close()

	client, err := ListenUDP(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer client.Close()

	payload := bytes.Repeat([]byte{0xAB}, 1200)
	if err := client.SendTo(payload, server.LocalAddr()); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	data, from := pollWithin(t, server, 2*time.Second)
	if !bytes.Equal(data, payload) {
		t.Errorf("received %d bytes, want %d", len(data), len(payload))
	}

	// Reply to the reported source address.
	if err := server.SendTo([]byte("pong"), from); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if data, _ := pollWithin(t, client, 2*time.Second); string(data) != "pong" {
		t.Errorf("reply = %q", data)
	}

	if err := server.SendTo([]byte("x"), nil); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer for nil addr, got %v", err)
	}

	cancel()
	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after cancel")
	}
}

func TestWSRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewWS(ctx)
	srv := httptest.NewServer(server)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWS(ctx, url)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	defer client.Close()

	if err := client.SendTo([]byte("datagram"), nil); err != nil {
		t.Fatalf("client SendTo failed: %v", err)
	}

	data, from := pollWithin(t, server, 2*time.Second)
	if string(data) != "datagram" {
		t.Fatalf("server got %q", data)
	}
	if _, ok := from.(WSAddr); !ok {
		t.Fatalf("from is %T, want WSAddr", from)
	}
	if peers := server.Peers(); len(peers) != 1 || peers[0] != from {
		t.Errorf("Peers = %v", peers)
	}

	if err := server.SendTo([]byte("reply"), from); err != nil {
		t.Fatalf("server SendTo failed: %v", err)
	}
	if data, _ := pollWithin(t, client, 2*time.Second); string(data) != "reply" {
		t.Errorf("client got %q", data)
	}

	unknown := WSAddr{}
	if err := server.SendTo([]byte("x"), unknown); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}
