package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Listener wraps a TCP listener and provides an Accept channel for connections.
type Listener struct {
	listener net.Listener
	logger   *slog.Logger
	// AcceptCh receives incoming connections. It is closed once the
	// listener stops.
	AcceptCh chan net.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// Listen starts listening on the given TCP address. Temporary accept errors
// are logged and retried; only Close stops the accept loop.
func Listen(addr string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		listener: ln,
		logger:   logger,
		AcceptCh: make(chan net.Conn),
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer close(l.AcceptCh)
	var backoff time.Duration
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			l.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		select {
		case l.AcceptCh <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close shuts down the listener. It is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.listener.Close()
	})
	return err
}
