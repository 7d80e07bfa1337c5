package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/rtnet/internal/util"
)

const wsWriteTimeout = 5 * time.Second

// WSAddr identifies one WebSocket peer. WebSocket connections have no
// datagram address of their own, so each is given a random id.
type WSAddr struct {
	ID uuid.UUID
}

func (a WSAddr) Network() string { return "ws" }
func (a WSAddr) String() string  { return "ws://" + a.ID.String() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WS is a datagram transport over WebSocket binary messages, one datagram
// per message. A server-side WS accepts any number of peers through
// ServeHTTP; a client-side WS from DialWS has exactly one.
type WS struct {
	*queue
	readLimit int

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	conns map[WSAddr]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
	addr WSAddr
	mu   sync.Mutex // serializes writes
}

// NewWS creates a server-side WebSocket transport. Mount it as an
// http.Handler.
func NewWS(ctx context.Context, opts ...Option) *WS {
	o := applyOptions(opts)
	wCtx, wCancel := context.WithCancel(ctx)
	w := &WS{
		queue:     newQueue(o.queueSize),
		readLimit: o.readLimit,
		ctx:       wCtx,
		cancel:    wCancel,
		conns:     make(map[WSAddr]*wsConn),
	}
	go func() {
		<-wCtx.Done()
		w.closeAll()
	}()
	return w
}

// DialWS connects to a WebSocket transport at url.
func DialWS(ctx context.Context, url string, opts ...Option) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	w := NewWS(ctx, opts...)
	w.add(conn)
	return w, nil
}

// ServeHTTP upgrades the request and adds the connection as a new peer.
func (w *WS) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.ctx.Err() != nil {
		http.Error(rw, "transport closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		util.LogDebug("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := w.add(conn)
	util.LogDebug("ws peer %s connected from %s", c.addr, r.RemoteAddr)
}

func (w *WS) add(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(int64(w.readLimit))
	c := &wsConn{conn: conn, addr: WSAddr{ID: uuid.New()}}

	w.mu.Lock()
	w.conns[c.addr] = c
	w.mu.Unlock()

	go w.readLoop(c)
	return c
}

func (w *WS) readLoop(c *wsConn) {
	defer w.remove(c)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("ws peer %s: %v", c.addr, err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		w.push(data, c.addr)
	}
}

func (w *WS) remove(c *wsConn) {
	w.mu.Lock()
	delete(w.conns, c.addr)
	w.mu.Unlock()
	c.conn.Close()
}

// SendTo writes data as one binary message to the peer at addr. A nil addr
// is accepted when there is exactly one peer, which is the client case.
func (w *WS) SendTo(data []byte, addr net.Addr) error {
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	c, err := w.lookup(addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *WS) lookup(addr net.Addr) (*wsConn, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if addr == nil {
		if len(w.conns) == 1 {
			for _, c := range w.conns {
				return c, nil
			}
		}
		return nil, ErrUnknownPeer
	}
	a, ok := addr.(WSAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPeer, addr)
	}
	c, ok := w.conns[a]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPeer, addr)
	}
	return c, nil
}

// Peers returns the addresses of the connected peers.
func (w *WS) Peers() []net.Addr {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]net.Addr, 0, len(w.conns))
	for a := range w.conns {
		out = append(out, a)
	}
	return out
}

// Done returns a channel that is closed when the transport is shut down.
func (w *WS) Done() <-chan struct{} { return w.ctx.Done() }

// Close disconnects every peer.
func (w *WS) Close() error {
	w.cancel()
	w.closeAll()
	return nil
}

func (w *WS) closeAll() {
	w.mu.Lock()
	conns := w.conns
	w.conns = make(map[WSAddr]*wsConn)
	w.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}
