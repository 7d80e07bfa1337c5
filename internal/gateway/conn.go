package gateway

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/util"
)

// sendBufferSize is the outgoing frame queue of one connection.
const sendBufferSize = 64

var errSlowConsumer = errors.New("gateway: connection not reading, closed")

// conn is one gateway connection. A single writer goroutine owns the write
// side, so broadcasts never block on a slow reader.
type conn struct {
	nc     net.Conn
	outbox chan *protocol.Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	server *gameServer // set once the connection registers; guarded by Server.mu
}

func newConn(ctx context.Context, nc net.Conn) *conn {
	cctx, cancel := context.WithCancel(ctx)
	c := &conn{
		nc:     nc,
		outbox: make(chan *protocol.Frame, sendBufferSize),
		ctx:    cctx,
		cancel: cancel,
	}
	go c.writeLoop()
	return c
}

func (c *conn) writeLoop() {
	defer c.close()
	for {
		select {
		case f := <-c.outbox:
			if err := protocol.WriteFrame(c.nc, f); err != nil {
				if c.ctx.Err() == nil {
					util.LogDebug("write to %s: %v", c.remote(), err)
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// send queues m. A connection whose queue is full is closed.
func (c *conn) send(m protocol.SessionMessage) error {
	if c.ctx.Err() != nil {
		return net.ErrClosed
	}
	select {
	case c.outbox <- protocol.NewFrame(m):
		return nil
	default:
		c.close()
		return errSlowConsumer
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.nc.Close()
	})
}

func (c *conn) remote() string {
	return c.nc.RemoteAddr().String()
}

// host is the address game clients should reach this connection's game
// server at.
func (c *conn) host() string {
	addr := c.remote()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
