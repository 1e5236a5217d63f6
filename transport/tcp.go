package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/parley/protocol"
	"github.com/luma/parley/registry"
)

const (
	WriteQueueSize = 127
)

// TCP is the relay server: it owns the listeners, the connection table, and
// the registry handed in through Options.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	reg   registry.Registry
	peers *connTable

	nextConnID uint64

	reuseport bool
	trace     bool

	closeOnce sync.Once

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = 1
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		reg:          options.Registry,
		peers:        newConnTable(),
		reuseport:    options.Reuseport,
		trace:        options.Trace,
		log:          options.Log,
	}
}

// Start binds every listener before returning, so Addr() is valid and a
// client can connect as soon as Start succeeds. Accept loops run until the
// context is cancelled or Close is called.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		listener := NewTCPListener(
			ctx,
			t.addr,
			t,
			t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
		)

		if err := listener.Bind(t.reuseport); err != nil {
			t.Close()
			return fmt.Errorf("failed to bind %s: %w", t.addr, err)
		}

		// An OS-assigned port must be shared by the remaining listeners.
		t.addr = listener.Addr()

		t.listeners = append(t.listeners, listener)

		t.stopWaiter.Add(1)
		go func() {
			defer t.stopWaiter.Done()

			if err := listener.Serve(); err != nil {
				t.log.Error("Listener failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// Addr returns the bound listen address, including the real port when the
// configured port was zero.
func (t *TCP) Addr() string {
	return t.addr
}

func (t *TCP) Registry() registry.Registry {
	return t.reg
}

// Close immediately closes all active listeners and connections.
func (t *TCP) Close() error {
	t.closeOnce.Do(func() {
		t.log.Info("Stopping TCP server")

		if t.cancel != nil {
			t.cancel()
		}

		for _, listener := range t.listeners {
			listener.Close()
		}

		for _, conn := range t.peers.all() {
			conn.Close()
		}
	})

	t.stopWaiter.Wait()

	return nil
}

func (t *TCP) newConnID() registry.ConnID {
	return registry.ConnID(atomic.AddUint64(&t.nextConnID, 1))
}

// connTable maps connection ids to their live connections. It spans all
// listeners so a relay can reach any recipient, and it includes connections
// that have not registered a handle yet.
type connTable struct {
	mu    sync.Mutex
	conns map[registry.ConnID]*TCPConn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[registry.ConnID]*TCPConn)}
}

func (p *connTable) add(conn *TCPConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[conn.id] = conn
}

func (p *connTable) remove(id registry.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.conns, id)
}

func (p *connTable) get(id registry.ConnID) (*TCPConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.conns[id]

	return conn, ok
}

func (p *connTable) all() []*TCPConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]*TCPConn, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}

	return conns
}

type TCPListener struct {
	ctx context.Context

	addr string
	log  *zap.Logger

	srv      *TCP
	listener net.Listener
}

func NewTCPListener(
	ctx context.Context,
	addr string,
	srv *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:  ctx,
		addr: addr,
		srv:  srv,
		log:  log,
	}
}

func (t *TCPListener) Bind(useReuseport bool) (err error) {
	if useReuseport {
		t.listener, err = reuseport.Listen("tcp", t.addr)
	} else {
		t.listener, err = net.Listen("tcp", t.addr)
	}

	return err
}

func (t *TCPListener) Addr() string {
	return t.listener.Addr().String()
}

func (t *TCPListener) Close() error {
	if t.listener == nil {
		return nil
	}

	return t.listener.Close()
}

func (t *TCPListener) Serve() error {
	defer t.listener.Close()

	var loopWaiter sync.WaitGroup

	defer func() {
		t.log.Info("Waiting for connection loops to stop")
		loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		select {
		case <-t.ctx.Done():
			t.log.Info("Stopped accepting new connections")
			return nil

		default:
			conn, err := t.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					// The listener was closed while we were waiting for
					// new connections, that's fine.
					return nil
				}

				return err
			}

			id := t.srv.newConnID()
			tcpConn := NewTCPConn(
				t.ctx,
				id,
				conn.(*net.TCPConn),
				t.srv.reg,
				t.srv.peers,
				t.srv.trace,
				t.log.Named("conn").With(zap.Uint64("conn", uint64(id))),
			)

			// A new connection joins the table (so Close can reach it)
			// but not the registry: it only routes after flag 1 succeeds.
			t.srv.peers.add(tcpConn)

			loopWaiter.Add(1)
			go func() {
				defer loopWaiter.Done()
				tcpConn.Start()
			}()
		}
	}
}

// TCPConn is one client connection and its per-connection engine state. The
// read loop parses and dispatches inbound PDUs; the write loop drains the
// write queue so on-wire order matches enqueue order regardless of which
// peer's read loop produced the frame.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	id   registry.ConnID
	conn *net.TCPConn

	reg   registry.Registry
	peers *connTable

	// writeQueue carries pre-framed wire buffers. One queue item is one
	// atomic write, which is what keeps a coalesced roster reply
	// contiguous on the wire.
	writeQueue chan []byte
	drainOnce  sync.Once

	trace bool

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	id registry.ConnID,
	conn *net.TCPConn,
	reg registry.Registry,
	peers *connTable,
	trace bool,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		id:         id,
		conn:       conn,
		reg:        reg,
		peers:      peers,
		writeQueue: make(chan []byte, WriteQueueSize),
		trace:      trace,
		log:        log,
	}
}

// Close tears the connection down immediately. Queued writes may be lost.
func (c *TCPConn) Close() error {
	c.cancel()

	return c.conn.Close()
}

func (c *TCPConn) Start() {
	c.loopWaiter.Add(2)

	go func() {
		defer c.loopWaiter.Done()
		c.ReadLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.WriteLoop()
	}()

	c.loopWaiter.Wait()
	c.finish()
}

func (c *TCPConn) ReadLoop() {
	log := c.log.Named("readLoop")

	defer func() {
		// Let the write loop drain anything still queued (a flag 3
		// rejection in particular) before the connection goes away.
		c.beginDrain()

		if err := c.conn.CloseRead(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("Failed to close reads on connection cleanly", zap.Error(err))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			log.Info("Context cancelled, exiting...")
			return

		default:
			payload, err := protocol.RecvPDU(c.conn, protocol.MaxPayload)

			switch {
			case errors.Is(err, protocol.ErrPeerClosed):
				log.Info("Peer closed connection")
				return

			case err != nil:
				// Malformed framing or a transport fault both drop this
				// connection only.
				log.Warn("Dropping connection", zap.Error(err))
				return
			}

			if closing := c.dispatch(payload); closing {
				return
			}
		}
	}
}

func (c *TCPConn) WriteLoop() {
	log := c.log.Named("writeLoop")

	defer func() {
		if err := c.conn.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("Failed to close writes on connection cleanly", zap.Error(err))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case frame := <-c.writeQueue:
			if frame == nil {
				// The read loop has terminated and the queue is drained,
				// we should stop too.
				return
			}

			if _, err := c.conn.Write(frame); err != nil {
				log.Warn("Failed to write frame", zap.Error(err))
				continue
			}
		}
	}
}

// enqueue hands a pre-framed buffer to the write loop. It blocks when the
// queue is full; a slow recipient therefore back-pressures whoever is
// relaying to it.
func (c *TCPConn) enqueue(frame []byte) {
	select {
	case c.writeQueue <- frame:
	case <-c.ctx.Done():
	}
}

func (c *TCPConn) enqueueMessage(m protocol.Message) {
	payload, err := m.Marshal()
	if err != nil {
		c.log.Error("Failed to marshal reply", zap.Uint8("flag", uint8(m.GetFlag())), zap.Error(err))
		return
	}

	c.enqueue(protocol.FramePDU(payload))
}

// beginDrain asks the write loop to exit once everything queued so far has
// been written.
func (c *TCPConn) beginDrain() {
	c.drainOnce.Do(func() {
		select {
		case c.writeQueue <- nil:
		case <-c.ctx.Done():
		}
	})
}

// finish runs after both loops have exited: the connection leaves the
// registry and the table, and the socket is closed for good.
func (c *TCPConn) finish() {
	if handle, ok := c.reg.LookupByConn(c.id); ok {
		c.log.Info("Client disconnected", zap.String("handle", handle))
	}

	if err := c.reg.RemoveByConn(c.id); err != nil && !errors.Is(err, registry.ErrNotFound) {
		c.log.Warn("Failed to deregister connection", zap.Error(err))
	}

	c.peers.remove(c.id)
	c.cancel()
	c.conn.Close()
}

// dispatch routes one inbound payload. It returns true when the connection
// must close (registration rejection or an unrecoverable payload).
func (c *TCPConn) dispatch(payload []byte) (closing bool) {
	if c.trace {
		c.log.Debug("PDU received", zap.Binary("payload", payload))
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownFlag):
			// Unknown flags are dropped, not fatal, so old servers stay
			// compatible with newer clients.
			c.log.Debug("Ignoring unknown flag", zap.Error(err))
			return false

		case errors.Is(err, protocol.ErrDestCount):
			c.log.Debug("Ignoring unicast with unexpected destination count", zap.Error(err))
			return false

		case errors.Is(err, protocol.ErrInvalidHandle) && protocol.Flag(payload[0]) == protocol.FlagRegister:
			// A registration whose handle length is outside 1..100 still
			// gets its rejection before the connection drops.
			if _, registered := c.reg.LookupByConn(c.id); registered {
				return false
			}

			c.log.Info("Rejecting registration", zap.Error(err))
			c.enqueueMessage(&protocol.RegisterNak{})
			return true

		default:
			c.log.Warn("Malformed payload, closing connection", zap.Error(err))
			return true
		}
	}

	if _, registered := c.reg.LookupByConn(c.id); !registered {
		reg, ok := msg.(*protocol.Register)
		if !ok {
			// Unregistered connections may not relay. Their traffic is
			// dropped without closing the connection.
			c.log.Debug("Ignoring pre-registration traffic", zap.Uint8("flag", uint8(msg.GetFlag())))
			return false
		}

		return c.handleRegister(reg)
	}

	switch m := msg.(type) {
	case *protocol.Register:
		c.log.Debug("Ignoring re-registration", zap.String("handle", m.Handle))

	case *protocol.Broadcast:
		c.relayBroadcast(payload)

	case *protocol.Unicast:
		c.relayUnicast(m, payload)

	case *protocol.Multicast:
		c.relayMulticast(m, payload)

	case *protocol.ListRequest:
		c.sendRoster()

	default:
		// Server-to-client shapes arriving at the server are dropped the
		// same way unknown flags are.
		c.log.Debug("Ignoring unexpected flag", zap.Uint8("flag", uint8(msg.GetFlag())))
	}

	return false
}

func (c *TCPConn) handleRegister(msg *protocol.Register) (closing bool) {
	if err := protocol.ValidateHandle(msg.Handle); err != nil {
		c.log.Info("Rejecting registration", zap.Error(err))
		c.enqueueMessage(&protocol.RegisterNak{})
		return true
	}

	if err := c.reg.Add(msg.Handle, c.id); err != nil {
		c.log.Info("Rejecting registration",
			zap.String("handle", msg.Handle),
			zap.Error(err))
		c.enqueueMessage(&protocol.RegisterNak{})
		return true
	}

	c.enqueueMessage(&protocol.RegisterAck{})
	c.log.Info("Client registered", zap.String("handle", msg.Handle))

	return false
}

// relayBroadcast forwards the payload verbatim to every registered
// connection except the sender.
func (c *TCPConn) relayBroadcast(payload []byte) {
	frame := protocol.FramePDU(payload)

	var errs error
	for _, entry := range c.reg.Snapshot() {
		if entry.Conn == c.id {
			continue
		}

		if err := c.relayTo(entry.Conn, frame); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", entry.Handle, err))
		}
	}

	if errs != nil {
		c.log.Warn("Some broadcast recipients were dropped", zap.Error(errs))
	}
}

func (c *TCPConn) relayUnicast(msg *protocol.Unicast, payload []byte) {
	dest, ok := c.reg.LookupByHandle(msg.Dest)
	if !ok {
		c.enqueueMessage(&protocol.UnknownDest{Handle: msg.Dest})
		return
	}

	if err := c.relayTo(dest, protocol.FramePDU(payload)); err != nil {
		c.log.Warn("Failed to relay message",
			zap.String("dest", msg.Dest),
			zap.Error(err))
	}
}

// relayMulticast resolves each destination independently and in order. A
// destination that does not resolve produces exactly one flag 7 packet back
// to the sender, without disturbing the other destinations.
func (c *TCPConn) relayMulticast(msg *protocol.Multicast, payload []byte) {
	frame := protocol.FramePDU(payload)

	var errs error
	for _, dest := range msg.Dests {
		conn, ok := c.reg.LookupByHandle(dest)
		if !ok {
			c.enqueueMessage(&protocol.UnknownDest{Handle: dest})
			continue
		}

		if err := c.relayTo(conn, frame); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", dest, err))
		}
	}

	if errs != nil {
		c.log.Warn("Some multicast recipients were dropped", zap.Error(errs))
	}
}

// sendRoster captures the roster once and emits the whole flag 11/12/13
// sequence as a single write queue item, so no other traffic to this
// connection can interleave with it.
func (c *TCPConn) sendRoster() {
	snapshot := c.reg.Snapshot()

	header, err := (&protocol.ListHeader{Count: uint32(len(snapshot))}).Marshal()
	if err != nil {
		c.log.Error("Failed to marshal roster header", zap.Error(err))
		return
	}

	buf := protocol.FramePDU(header)

	for _, entry := range snapshot {
		payload, err := (&protocol.ListEntry{Handle: entry.Handle}).Marshal()
		if err != nil {
			c.log.Error("Failed to marshal roster entry",
				zap.String("handle", entry.Handle),
				zap.Error(err))
			return
		}

		buf = append(buf, protocol.FramePDU(payload)...)
	}

	end, err := (&protocol.ListEnd{}).Marshal()
	if err != nil {
		c.log.Error("Failed to marshal roster terminator", zap.Error(err))
		return
	}

	buf = append(buf, protocol.FramePDU(end)...)

	c.enqueue(buf)
}

// relayTo hands frame to the write queue of the identified connection.
// A recipient that is gone is reported to the caller, which logs and moves
// on; relay failures never abort a fan-out.
func (c *TCPConn) relayTo(id registry.ConnID, frame []byte) error {
	target, ok := c.peers.get(id)
	if !ok {
		return fmt.Errorf("connection %d: %w", id, registry.ErrNotFound)
	}

	target.enqueue(frame)

	return nil
}
