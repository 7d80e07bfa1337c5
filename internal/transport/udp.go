package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/rtnet/internal/util"
)

// UDP is a datagram transport over a packet socket.
type UDP struct {
	*queue
	conn net.PacketConn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	readLimit int
}

// ListenUDP opens a UDP socket on addr (":0" picks a port) and starts
// reading from it.
func ListenUDP(ctx context.Context, addr string, opts ...Option) (*UDP, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %s: %w", addr, err)
	}
	return NewUDP(ctx, conn, opts...), nil
}

// NewUDP wraps an existing packet socket. The transport owns conn from now on.
func NewUDP(ctx context.Context, conn net.PacketConn, opts ...Option) *UDP {
	o := applyOptions(opts)
	uCtx, uCancel := context.WithCancel(ctx)

	u := &UDP{
		queue:     newQueue(o.queueSize),
		conn:      conn,
		ctx:       uCtx,
		cancel:    uCancel,
		readLimit: o.readLimit,
	}
	go u.readLoop()
	go func() {
		<-uCtx.Done()
		u.Close()
	}()
	return u
}

func (u *UDP) readLoop() {
	buf := make([]byte, u.readLimit)
	for {
		n, from, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || u.ctx.Err() != nil {
				return
			}
			util.LogDebug("udp read: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		u.push(data, from)
	}
}

// SendTo writes one datagram to addr.
func (u *UDP) SendTo(data []byte, addr net.Addr) error {
	if addr == nil {
		return ErrUnknownPeer
	}
	if u.ctx.Err() != nil {
		return ErrClosed
	}
	_, err := u.conn.WriteTo(data, addr)
	return err
}

// LocalAddr returns the socket address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Done returns a channel that is closed when the transport is shut down.
func (u *UDP) Done() <-chan struct{} { return u.ctx.Done() }

// Close closes the socket.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.cancel()
		err = u.conn.Close()
	})
	return err
}
