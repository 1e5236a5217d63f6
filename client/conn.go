package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/luma/parley/protocol"
)

var (
	ErrHandleInUse  = errors.New("handle already in use")
	ErrNotConnected = errors.New("not connected")
)

// Conn is one client connection to a relay server. It owns the handshake
// and the typed senders; Session drives it interactively.
type Conn struct {
	handle string

	conn net.Conn

	log *zap.Logger
}

func New(handle string, log *zap.Logger) *Conn {
	return &Conn{
		handle: handle,
		log:    log,
	}
}

// Wrap builds a Conn over an already-established connection. Tests use it
// with pipes.
func Wrap(handle string, conn net.Conn, log *zap.Logger) *Conn {
	c := New(handle, log)
	c.conn = conn

	return c
}

func (c *Conn) Handle() string {
	return c.handle
}

func (c *Conn) Dial(ctx context.Context, addr string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c.conn = conn

	return nil
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Register runs the registration handshake: send flag 1, block for the
// server's verdict. A flag 3 reply is ErrHandleInUse; the server closes the
// connection right after sending it.
func (c *Conn) Register() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	if err := protocol.WriteMessage(c.conn, &protocol.Register{Handle: c.handle}); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	msg, err := c.Recv()
	if err != nil {
		return fmt.Errorf("no registration response from server: %w", err)
	}

	switch msg.(type) {
	case *protocol.RegisterAck:
		return nil

	case *protocol.RegisterNak:
		return ErrHandleInUse

	default:
		return fmt.Errorf("unexpected registration response flag %d: %w",
			msg.GetFlag(), protocol.ErrProtocol)
	}
}

func (c *Conn) SendBroadcast(text string) error {
	return c.send(&protocol.Broadcast{Sender: c.handle, Text: text})
}

func (c *Conn) SendUnicast(dest, text string) error {
	return c.send(&protocol.Unicast{Sender: c.handle, Dest: dest, Text: text})
}

func (c *Conn) SendMulticast(dests []string, text string) error {
	return c.send(&protocol.Multicast{Sender: c.handle, Dests: dests, Text: text})
}

func (c *Conn) RequestRoster() error {
	return c.send(&protocol.ListRequest{})
}

// Recv blocks for one inbound PDU and decodes it.
func (c *Conn) Recv() (protocol.Message, error) {
	payload, err := protocol.RecvPDU(c.conn, protocol.MaxPayload)
	if err != nil {
		return nil, err
	}

	return protocol.Decode(payload)
}

func (c *Conn) send(m protocol.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	return protocol.WriteMessage(c.conn, m)
}
