// Package chat runs one-to-one chat sessions over TCP. Each open channel is
// a single connection identified by the CHAT_IDENTIFY frame its initiator
// sends first.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/transport"
	"github.com/peder1981/lanchat/internal/wire"
)

// DefaultDialTimeout bounds connection attempts and writes.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrPeerOffline is returned by Initiate for a contact whose status is
	// OFFLINE. No connection is attempted.
	ErrPeerOffline = errors.New("peer is offline")
	// ErrPeerUnreachable is returned by Initiate when the peer cannot be
	// connected to or identified with.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrNoChannel is returned when no channel is open with the peer.
	ErrNoChannel = errors.New("no chat open with peer")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("chat server closed")
)

// TransportError reports an I/O failure on an open channel.
type TransportError struct {
	Peer string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Server. Local, Registry and Bus are required.
type Options struct {
	Local    *contact.Local
	Registry *contact.Registry
	Bus      *event.Bus
	Logger   *slog.Logger

	// Port is the local listening port, PeerPort the port dialed on peers.
	Port     int
	PeerPort int

	DialTimeout time.Duration
}

// channel is one identified connection.
type channel struct {
	peer contact.Contact
	conn net.Conn
	// bound is set once the channel entered the table; only bound
	// channels produce ChatInitiated and ChatClosed.
	bound bool

	writeMu sync.Mutex
}

func (c *channel) write(m wire.Message, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return wire.WriteFrame(c.conn, m)
}

// Server owns the chat listener and the table of open channels.
type Server struct {
	local    *contact.Local
	registry *contact.Registry
	bus      *event.Bus
	logger   *slog.Logger
	port     int
	peerPort int
	timeout  time.Duration

	listener *transport.Listener

	// mu guards the tables below. The registry lock is never taken while
	// mu is held.
	mu       sync.Mutex
	channels map[uuid.UUID]*channel
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Server. Call Listen before Serve.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.PeerPort == 0 {
		opts.PeerPort = opts.Port
	}
	return &Server{
		local:    opts.Local,
		registry: opts.Registry,
		bus:      opts.Bus,
		logger:   opts.Logger.With("component", "chat"),
		port:     opts.Port,
		peerPort: opts.PeerPort,
		timeout:  opts.DialTimeout,
		channels: make(map[uuid.UUID]*channel),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds the chat port.
func (s *Server) Listen() error {
	l, err := transport.Listen(fmt.Sprintf(":%d", s.port), s.logger)
	if err != nil {
		return fmt.Errorf("bind chat port %d: %w", s.port, err)
	}
	s.listener = l
	return nil
}

// Addr returns the listening address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown is called or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("chat: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	s.logger.Info("chat listening", "addr", s.listener.Addr(), "peerPort", s.peerPort)
	for conn := range s.listener.AcceptCh {
		if !s.track(conn) {
			conn.Close()
			continue
		}
		go s.readLoop(conn, nil)
	}
	return nil
}

// track registers a live socket and reserves its loop in wg.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// Initiate opens a channel with peer and identifies the local user on it.
// It is a no-op when a channel with peer is already open.
func (s *Server) Initiate(ctx context.Context, peer contact.Contact) error {
	if s.IsOpen(peer.ID) {
		return nil
	}
	if !peer.Reachable() {
		return fmt.Errorf("chat with %s: %w", peer.Name, ErrPeerOffline)
	}

	addr := netip.AddrPortFrom(peer.Addr, uint16(s.peerPort)).String()
	conn, err := transport.Dial(ctx, addr, s.timeout)
	if err != nil {
		return fmt.Errorf("chat with %s: %w: %w", peer.Name, ErrPeerUnreachable, err)
	}

	ch := &channel{peer: peer, conn: conn, bound: true}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if _, ok := s.channels[peer.ID]; ok {
		// an inbound channel won the race
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.channels[peer.ID] = ch
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	identify := wire.New(s.local.ID(), wire.TypeChatIdentify, s.local.Name(), peer.Addr)
	if err := ch.write(identify, s.timeout); err != nil {
		s.mu.Lock()
		if s.channels[peer.ID] == ch {
			delete(s.channels, peer.ID)
		}
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
		return fmt.Errorf("chat with %s: %w: %w", peer.Name, ErrPeerUnreachable, err)
	}

	s.logger.Info("chat opened", "peer", peer.Name, "addr", addr)
	go s.readLoop(conn, ch)
	return nil
}

// Send writes a chat line on the channel open with peerID.
func (s *Server) Send(peerID uuid.UUID, text string) error {
	s.mu.Lock()
	ch, ok := s.channels[peerID]
	s.mu.Unlock()
	if !ok {
		return ErrNoChannel
	}

	err := ch.write(wire.New(s.local.ID(), wire.TypeChatMessage, text, ch.peer.Addr), s.timeout)
	if errors.Is(err, wire.ErrFrameSize) {
		return err
	}
	if err != nil {
		return &TransportError{Peer: ch.peer.Name, Op: "send", Err: err}
	}
	return nil
}

// Close ends the channel with peerID. Both ends publish ChatClosed once
// their loops see the connection go away.
func (s *Server) Close(peerID uuid.UUID) error {
	s.mu.Lock()
	ch, ok := s.channels[peerID]
	if ok {
		delete(s.channels, peerID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNoChannel
	}
	return ch.conn.Close()
}

// IsOpen reports whether a channel with peerID is open.
func (s *Server) IsOpen(peerID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[peerID]
	return ok
}

// Peers returns the identities with an open channel.
func (s *Server) Peers() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes the listener and every connection, then waits for the
// connection loops to finish. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	clear(s.channels)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	s.logger.Info("chat stopped")
}

// readLoop serves one connection. ch is nil for inbound connections until
// their identify frame arrives.
func (s *Server) readLoop(conn net.Conn, ch *channel) {
	defer s.wg.Done()
	remote := remoteAddr(conn)
	log := s.logger.With("addr", remote)

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		bound := ch != nil && ch.bound
		if bound && s.channels[ch.peer.ID] == ch {
			delete(s.channels, ch.peer.ID)
		}
		s.mu.Unlock()
		if bound {
			peer := s.current(ch.peer)
			log.Info("chat closed", "peer", peer.Name)
			s.bus.Publish(event.ChatClosed{Contact: peer})
		}
	}()

	for {
		msg, err := wire.ReadFrame(conn, remote)
		if err != nil {
			var de *wire.DecodeError
			if errors.As(err, &de) {
				log.Debug("dropping malformed frame", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("chat connection ended", "error", err)
			}
			return
		}

		if ch == nil {
			if ch = s.identify(conn, msg, log); ch == nil {
				return
			}
			continue
		}

		if msg.Sender != ch.peer.ID {
			log.Debug("dropping frame from unexpected sender", "peer", msg.Sender)
			continue
		}
		switch msg.Type {
		case wire.TypeChatMessage:
			s.bus.Publish(event.ChatMessageReceived{Contact: s.current(ch.peer), Text: msg.Text})
		default:
			log.Debug("ignoring frame", "type", msg.Type)
		}
	}
}

// identify handles the first frame of an inbound connection. It returns
// nil when the connection must be dropped.
func (s *Server) identify(conn net.Conn, msg wire.Message, log *slog.Logger) *channel {
	if msg.Type != wire.TypeChatIdentify {
		log.Warn("unidentified chat connection", "type", msg.Type)
		return nil
	}
	peer, ok := s.registry.LookupByID(msg.Sender)
	if !ok {
		log.Warn("chat identify from unknown sender", "peer", msg.Sender, "name", msg.Text)
		return nil
	}

	ch := &channel{peer: peer, conn: conn}
	s.mu.Lock()
	if _, exists := s.channels[peer.ID]; !exists && !s.closed {
		s.channels[peer.ID] = ch
		ch.bound = true
	}
	bound := ch.bound
	s.mu.Unlock()

	if !bound {
		log.Info("second chat connection from peer, serving unbound", "peer", peer.Name)
		return ch
	}
	log.Info("chat initiated by peer", "peer", peer.Name)
	s.bus.Publish(event.ChatInitiated{Contact: peer})
	return ch
}

// current returns the registry's view of peer, which may carry a newer name
// or status than the snapshot taken when the channel opened.
func (s *Server) current(peer contact.Contact) contact.Contact {
	if c, ok := s.registry.LookupByID(peer.ID); ok {
		return c
	}
	return peer
}

func remoteAddr(conn net.Conn) netip.Addr {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap()
	}
	return netip.Addr{}
}
