// Package discovery runs the UDP presence protocol: announcing the local
// user, negotiating a unique username with the peers on the segment and
// tracking who is online.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/wire"
)

// DefaultNegotiationTimeout is how long a claimed name waits for a rebuttal.
const DefaultNegotiationTimeout = 3 * time.Second

var (
	// ErrInvalidName is returned for blank usernames.
	ErrInvalidName = contact.ErrInvalidName
	// ErrNegotiating is returned when a name negotiation is already running.
	ErrNegotiating = errors.New("username negotiation already in progress")
	// ErrAlreadyConnected is returned by AttemptLogin after a successful login.
	ErrAlreadyConnected = errors.New("already logged in")
	// ErrNotConnected is returned by operations that need a logged in user.
	ErrNotConnected = errors.New("not logged in")
	// ErrSameName is returned when renaming to the current name.
	ErrSameName = errors.New("already using that username")
	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("discovery server closed")
)

// State is the login state of the local user.
type State int

const (
	// StateOffline: no name held; only the negotiation messages are handled.
	StateOffline State = iota
	// StateClaiming: a login negotiation is running.
	StateClaiming
	// StateConnected: the local user holds a name.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateClaiming:
		return "claiming"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Metrics holds counters for the discovery socket.
type Metrics struct {
	PacketsReceived    int64
	DecodeErrors       int64
	SelfDropped        int64
	PacketsIgnored     int64
	PacketsSent        int64
	SendErrors         int64
	ContactsDiscovered int64
	StartTime          time.Time
	Uptime             time.Duration
}

// Options configures a Server. Local, Registry and Bus are required.
type Options struct {
	Local    *contact.Local
	Registry *contact.Registry
	Bus      *event.Bus
	Logger   *slog.Logger

	// ReceivePort is bound locally; SendPort is where every packet goes.
	ReceivePort int
	SendPort    int
	// Broadcast is the destination of announcements.
	Broadcast netip.Addr

	NegotiationTimeout time.Duration
}

// packetConn is the part of *net.UDPConn the server uses.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

// Server is the discovery endpoint of one node.
type Server struct {
	local     *contact.Local
	registry  *contact.Registry
	bus       *event.Bus
	logger    *slog.Logger
	recvPort  int
	sendPort  int
	broadcast netip.Addr
	timeout   time.Duration

	conn      packetConn
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	pending *negotiation
	closed  bool

	metricsMu sync.Mutex
	metrics   Metrics
}

// New creates a Server. Call Listen before Serve.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if !opts.Broadcast.IsValid() {
		opts.Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})
	}
	return &Server{
		local:     opts.Local,
		registry:  opts.Registry,
		bus:       opts.Bus,
		logger:    opts.Logger.With("component", "discovery"),
		recvPort:  opts.ReceivePort,
		sendPort:  opts.SendPort,
		broadcast: opts.Broadcast,
		timeout:   opts.NegotiationTimeout,
		metrics:   Metrics{StartTime: time.Now()},
	}
}

// Listen binds the receive port on every IPv4 interface.
func (s *Server) Listen() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: s.recvPort})
	if err != nil {
		return fmt.Errorf("bind discovery port %d: %w", s.recvPort, err)
	}
	s.conn = conn
	return nil
}

// Serve reads datagrams until Disconnect is called or ctx is done. Each
// datagram is handled before the next is read.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("discovery: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	s.logger.Info("discovery listening", "port", s.recvPort, "sendPort", s.sendPort, "broadcast", s.broadcast)
	buf := make([]byte, 2*wire.MaxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("read failed", "error", err)
			continue
		}
		s.HandlePacket(buf[:n], from.Addr().Unmap())
	}
}

// HandlePacket decodes one datagram received from addr and dispatches it.
func (s *Server) HandlePacket(b []byte, from netip.Addr) {
	s.count(func(m *Metrics) { m.PacketsReceived++ })

	id := s.local.ID()
	if len(b) >= len(id) && bytes.Equal(b[:len(id)], id[:]) {
		s.count(func(m *Metrics) { m.SelfDropped++ })
		return
	}
	msg, err := wire.Decode(b, from)
	if err != nil {
		s.count(func(m *Metrics) { m.DecodeErrors++ })
		s.logger.Debug("dropping malformed packet", "addr", from, "error", err)
		return
	}
	s.handle(msg)
}

// State returns the current login state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns a copy of the counters.
func (s *Server) Metrics() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	m := s.metrics
	m.Uptime = time.Since(m.StartTime)
	return m
}

func (s *Server) count(f func(*Metrics)) {
	s.metricsMu.Lock()
	f(&s.metrics)
	s.metricsMu.Unlock()
}

// ChangeStatus sets the local presence and announces it when logged in.
func (s *Server) ChangeStatus(status contact.Status) error {
	if status < contact.Online || status > contact.Offline {
		return fmt.Errorf("invalid status %d", int(status))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.local.SetStatus(status)
	announce := s.state == StateConnected
	s.mu.Unlock()

	if announce {
		if err := s.send(wire.TypeStatusChange, status.String(), s.broadcast); err != nil {
			return fmt.Errorf("announce status: %w", err)
		}
	}
	s.bus.Publish(event.StatusChanged{Status: status})
	return nil
}

// Disconnect announces departure, cancels any negotiation and stops Serve.
// Only the first call has an effect.
func (s *Server) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if n := s.pending; n != nil {
		s.pending = nil
		n.timer.Stop()
		s.local.Abandon()
	}
	s.state = StateOffline
	hadName := s.local.Name() != ""
	s.mu.Unlock()

	var err error
	if hadName && s.conn != nil {
		if err = s.send(wire.TypeDisconnect, "", s.broadcast); err != nil {
			err = fmt.Errorf("announce disconnect: %w", err)
		}
	}
	s.closeConn()
	s.logger.Info("discovery stopped")
	return err
}

func (s *Server) closeConn() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// send encodes a message from the local user and writes it to addr on the
// send port.
func (s *Server) send(t wire.Type, text string, addr netip.Addr) error {
	pkt, err := wire.EncodeDatagram(wire.New(s.local.ID(), t, text, addr))
	if err != nil {
		return err
	}
	return s.write(pkt, addr)
}

func (s *Server) write(pkt []byte, addr netip.Addr) error {
	if s.conn == nil {
		return errors.New("discovery socket not bound")
	}
	if _, err := s.conn.WriteToUDPAddrPort(pkt, netip.AddrPortFrom(addr, uint16(s.sendPort))); err != nil {
		s.count(func(m *Metrics) { m.SendErrors++ })
		return err
	}
	s.count(func(m *Metrics) { m.PacketsSent++ })
	return nil
}

// reply sends a unicast message and only logs failures; the loop must keep
// running.
func (s *Server) reply(t wire.Type, text string, addr netip.Addr) {
	if err := s.send(t, text, addr); err != nil {
		s.logger.Warn("reply failed", "type", t, "addr", addr, "error", err)
	}
}
