package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/parley/protocol"
)

const prompt = "$: "

const helpText = `%M dest [text]         send a private message
%B [text]              broadcast to every registered client
%C k d1 d2 .. dk [text]  multicast to k handles, 2 <= k <= 9
%L                     list the registered handles
%H                     print this help`

// errServerClosed is returned up the Run loop once "Server Terminated" has
// been printed; the session then exits cleanly.
var errServerClosed = errors.New("server closed the connection")

// Session multiplexes user input and server traffic over one registered
// Conn, printing the user-facing lines and re-emitting the prompt after
// every event.
type Session struct {
	conn *Conn

	in  io.Reader
	out io.Writer

	msgs    chan protocol.Message
	readErr chan error

	log *zap.Logger
}

func NewSession(conn *Conn, in io.Reader, out io.Writer, log *zap.Logger) *Session {
	return &Session{
		conn:    conn,
		in:      in,
		out:     out,
		msgs:    make(chan protocol.Message),
		readErr: make(chan error, 1),
		log:     log,
	}
}

// Run drives the session until stdin is exhausted (clean exit), the server
// goes away (clean exit after "Server Terminated"), or the context ends.
// Registration must have succeeded before Run is called.
func (s *Session) Run(ctx context.Context) error {
	lines := make(chan string)

	go s.readInput(ctx, lines)
	go s.readSocket(ctx)

	s.prompt()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				// EOF on the input is a clean quit.
				return nil
			}

			if err := s.handleLine(line); err != nil {
				if errors.Is(err, errServerClosed) {
					return nil
				}

				return err
			}

		case msg := <-s.msgs:
			if err := s.handleInbound(msg); err != nil {
				if errors.Is(err, errServerClosed) {
					return nil
				}

				return err
			}

		case <-s.readErr:
			s.printServerTerminated()
			return nil
		}
	}
}

func (s *Session) readInput(ctx context.Context, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxPayload)

	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// readSocket decodes inbound PDUs onto s.msgs. Malformed payloads are
// dropped; only transport-level failures end the loop.
func (s *Session) readSocket(ctx context.Context) {
	for {
		msg, err := s.conn.Recv()
		if err != nil {
			if errors.Is(err, protocol.ErrPeerClosed) || errors.Is(err, protocol.ErrConnectionLost) {
				s.readErr <- err
				return
			}

			s.log.Debug("Dropping inbound packet", zap.Error(err))
			continue
		}

		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleLine(line string) error {
	if strings.TrimSpace(line) == "" {
		s.prompt()
		return nil
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		s.log.Debug("Rejected command", zap.String("line", line), zap.Error(err))
		fmt.Fprintln(s.out, "Invalid command")
		s.prompt()
		return nil
	}

	var sendErr error

	switch c := cmd.(type) {
	case *HelpCommand:
		fmt.Fprintln(s.out, helpText)

	case *BroadcastCommand:
		sendErr = s.conn.SendBroadcast(c.Text)

	case *UnicastCommand:
		sendErr = s.conn.SendUnicast(c.Dest, c.Text)

	case *MulticastCommand:
		sendErr = s.conn.SendMulticast(c.Dests, c.Text)

	case *ListCommand:
		sendErr = s.conn.RequestRoster()
	}

	if sendErr != nil {
		if errors.Is(sendErr, protocol.ErrPeerClosed) || errors.Is(sendErr, protocol.ErrConnectionLost) {
			s.printServerTerminated()
			return errServerClosed
		}

		s.log.Warn("Failed to send command", zap.Error(sendErr))
	}

	s.prompt()

	return nil
}

func (s *Session) handleInbound(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.Broadcast:
		s.printMessage(m.Sender, m.Text)

	case *protocol.Unicast:
		s.printMessage(m.Sender, m.Text)

	case *protocol.Multicast:
		s.printMessage(m.Sender, m.Text)

	case *protocol.UnknownDest:
		fmt.Fprintf(s.out, "\nClient with handle %s does not exist.\n", m.Handle)

	case *protocol.ListHeader:
		if err := s.collectRoster(m.Count); err != nil {
			return err
		}

	default:
		// Stray registration or roster packets outside their sequence.
		s.log.Debug("Ignoring inbound flag", zap.Uint8("flag", uint8(msg.GetFlag())))
	}

	s.prompt()

	return nil
}

// collectRoster blocks on the socket for the rest of a roster reply: count
// packets that should each carry one handle, then the terminator. Packets
// with a different flag inside the sequence are skipped, not re-queued.
func (s *Session) collectRoster(count uint32) error {
	fmt.Fprintf(s.out, "\nNumber of clients: %d\n", count)

	for i := uint32(0); i < count; i++ {
		msg, err := s.nextRosterPacket()
		if err != nil {
			return err
		}

		entry, ok := msg.(*protocol.ListEntry)
		if !ok {
			s.log.Debug("Skipping non-entry packet in roster reply",
				zap.Uint8("flag", uint8(msg.GetFlag())))
			continue
		}

		fmt.Fprintln(s.out, entry.Handle)
	}

	msg, err := s.nextRosterPacket()
	if err != nil {
		return err
	}

	if _, ok := msg.(*protocol.ListEnd); !ok {
		s.log.Debug("Roster reply ended without a terminator",
			zap.Uint8("flag", uint8(msg.GetFlag())))
	}

	return nil
}

func (s *Session) nextRosterPacket() (protocol.Message, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil

	case <-s.readErr:
		s.printServerTerminated()
		return nil, errServerClosed
	}
}

func (s *Session) printMessage(sender, text string) {
	fmt.Fprintf(s.out, "\n%s: %s\n", sender, text)
}

func (s *Session) printServerTerminated() {
	fmt.Fprintln(s.out, "\nServer Terminated")
}

func (s *Session) prompt() {
	fmt.Fprint(s.out, prompt)
}

// Greeting is the connect banner. The clientID is decorative and only shown
// when positive.
func Greeting(host, port, handle string, clientID int) string {
	greeting := fmt.Sprintf("Connected to Server %s on Port %s as Client %s", host, port, handle)

	if clientID > 0 {
		greeting += fmt.Sprintf(" (ID %d)", clientID)
	}

	return greeting
}
