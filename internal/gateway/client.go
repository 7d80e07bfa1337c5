package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/rtnet/internal/protocol"
)

var ErrRefused = errors.New("gateway: refused")

// Client talks to a gateway over one TCP connection. Requests (Register,
// Create, Join) wait for their answer; broadcasts that arrive meanwhile are
// kept and returned by Next in order.
type Client struct {
	conn net.Conn
	wmu  sync.Mutex

	rmu     sync.Mutex
	backlog []protocol.SessionMessage
}

// Dial connects to the gateway at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway %s: %w", addr, err)
	}
	return NewClient(c), nil
}

// NewClient wraps an established connection.
func NewClient(c net.Conn) *Client {
	return &Client{conn: c}
}

// Send writes one frame carrying m.
func (c *Client) Send(m protocol.SessionMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, protocol.NewFrame(m))
}

// Next returns the next message from the gateway, blocking until one
// arrives.
func (c *Client) Next() (protocol.SessionMessage, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if len(c.backlog) > 0 {
		m := c.backlog[0]
		c.backlog = c.backlog[1:]
		return m, nil
	}
	return c.read()
}

func (c *Client) read() (protocol.SessionMessage, error) {
	f, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFrameMessage(f)
}

// await reads until a message of one of the given types arrives, keeping
// everything else for Next.
func (c *Client) await(types ...protocol.SessionType) (protocol.SessionMessage, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		m, err := c.read()
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			if m.Type() == t {
				return m, nil
			}
		}
		c.backlog = append(c.backlog, m)
	}
}

// Register announces a game server listening on udpPort that can host
// capacity games, and returns the id the gateway assigned.
func (c *Client) Register(udpPort uint16, capacity uint8) (uint32, error) {
	if err := c.Send(protocol.ServerHello{UDPPort: udpPort, Capacity: capacity}); err != nil {
		return 0, err
	}
	m, err := c.await(protocol.SessGSOK, protocol.SessGSKO)
	if err != nil {
		return 0, err
	}
	if ko, ok := m.(protocol.ServerRefused); ok {
		return 0, fmt.Errorf("%w: %s", ErrRefused, ko.Reason)
	}
	return m.(protocol.ServerAccepted).ServerID, nil
}

// Create asks for a new game of type typ.
func (c *Client) Create(typ protocol.GameType) (protocol.GameAssigned, error) {
	if err := c.Send(protocol.CreateGame{GameType: typ}); err != nil {
		return protocol.GameAssigned{}, err
	}
	m, err := c.await(protocol.SessGID, protocol.SessCreateKO)
	if err != nil {
		return protocol.GameAssigned{}, err
	}
	if ko, ok := m.(protocol.CreateRefused); ok {
		return protocol.GameAssigned{}, fmt.Errorf("%w: %s", ErrRefused, ko.Reason)
	}
	return m.(protocol.GameAssigned), nil
}

// Join asks where game id is hosted.
func (c *Client) Join(id uint32) (protocol.GameAssigned, error) {
	if err := c.Send(protocol.JoinGame{GameID: id}); err != nil {
		return protocol.GameAssigned{}, err
	}
	m, err := c.await(protocol.SessGID, protocol.SessJoinKO)
	if err != nil {
		return protocol.GameAssigned{}, err
	}
	if ko, ok := m.(protocol.JoinRefused); ok {
		return protocol.GameAssigned{}, fmt.Errorf("%w: %s", ErrRefused, ko.Reason)
	}
	return m.(protocol.GameAssigned), nil
}

// Occupancy reports the player count of a game this server hosts.
func (c *Client) Occupancy(id uint32, players, capacity uint8) error {
	return c.Send(protocol.Occupancy{GameID: id, Players: players, Capacity: capacity})
}

// EndGame tells the gateway that a game this server hosts is over.
func (c *Client) EndGame(id uint32) error {
	return c.Send(protocol.GameEnded{GameID: id})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
