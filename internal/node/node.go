// Package node assembles one chat participant: the local user, the contact
// registry, the discovery and chat servers and the event bus they publish
// on. Front ends drive a Node through its commands and render the events
// from Subscribe.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/peder1981/lanchat/internal/chat"
	"github.com/peder1981/lanchat/internal/config"
	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/discovery"
	"github.com/peder1981/lanchat/internal/event"
)

// ErrNotStarted is returned by Wait before Start.
var ErrNotStarted = errors.New("node not started")

// Options holds the collaborators a Node does not build from config.
type Options struct {
	Logger *slog.Logger
	// Local overrides the generated local user; tests use it to fix the
	// identity.
	Local *contact.Local
}

// Node is one running participant.
type Node struct {
	logger    *slog.Logger
	local     *contact.Local
	registry  *contact.Registry
	bus       *event.Bus
	discovery *discovery.Server
	chat      *chat.Server
	watch     *event.Subscription

	mu      sync.Mutex
	group   *errgroup.Group
	cancel  context.CancelFunc
	stopped bool

	stopOnce sync.Once
	stopErr  error
}

// New builds a Node from cfg. Nothing is bound until Start.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	broadcast, err := cfg.BroadcastAddr()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	local := opts.Local
	if local == nil {
		local = contact.NewLocal()
	}
	registry := contact.NewRegistry(local)
	bus := event.NewBus(logger)

	n := &Node{
		logger:   logger,
		local:    local,
		registry: registry,
		bus:      bus,
		discovery: discovery.New(discovery.Options{
			Local:              local,
			Registry:           registry,
			Bus:                bus,
			Logger:             logger,
			ReceivePort:        cfg.Discovery.ReceivePort,
			SendPort:           cfg.Discovery.SendPort,
			Broadcast:          broadcast,
			NegotiationTimeout: cfg.Discovery.NegotiationTimeout.Duration,
		}),
		chat: chat.New(chat.Options{
			Local:       local,
			Registry:    registry,
			Bus:         bus,
			Logger:      logger,
			Port:        cfg.Chat.Port,
			PeerPort:    cfg.Chat.PeerPort,
			DialTimeout: cfg.Chat.DialTimeout.Duration,
		}),
	}
	n.watch = bus.Subscribe(event.DefaultBuffer)
	return n, nil
}

// Start binds the discovery and chat sockets and runs their loops until
// Disconnect or ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return discovery.ErrClosed
	}
	if n.group != nil {
		return errors.New("node already started")
	}

	if err := n.discovery.Listen(); err != nil {
		return err
	}
	if err := n.chat.Listen(); err != nil {
		n.discovery.Disconnect()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.discovery.Serve(gctx) })
	g.Go(func() error { return n.chat.Serve(gctx) })
	g.Go(func() error {
		n.closeChatsOfDeparted(gctx)
		return nil
	})
	n.group = g
	n.cancel = cancel
	n.logger.Info("node started", "id", n.local.ID())
	return nil
}

// closeChatsOfDeparted closes the chat with any contact that announces it
// is leaving.
func (n *Node) closeChatsOfDeparted(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-n.watch.Events():
			if !ok {
				return
			}
			d, ok := e.(event.ContactDisconnected)
			if !ok {
				continue
			}
			if err := n.chat.Close(d.Contact.ID); err == nil {
				n.logger.Debug("closed chat with departed contact", "peer", d.Contact.Name)
			}
		}
	}
}

// Wait blocks until the loops started by Start have returned.
func (n *Node) Wait() error {
	n.mu.Lock()
	g := n.group
	n.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

// Disconnect announces departure, closes every chat, stops both loops and
// waits for them. Only the first call does anything; later calls return
// the first call's result.
func (n *Node) Disconnect() error {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		g, cancel := n.group, n.cancel
		n.mu.Unlock()

		err := n.discovery.Disconnect()
		n.chat.Shutdown()
		if cancel != nil {
			cancel()
		}
		if g != nil {
			err = errors.Join(err, g.Wait())
		}
		n.watch.Close()
		n.bus.Close()
		n.stopErr = err
		n.logger.Info("node stopped")
	})
	return n.stopErr
}

// AttemptLogin starts negotiating name as the local username.
func (n *Node) AttemptLogin(name string) error {
	return n.discovery.AttemptLogin(name)
}

// ChangeUsername starts negotiating a new username.
func (n *Node) ChangeUsername(name string) error {
	return n.discovery.ChangeUsername(name)
}

// ChangeStatus sets and announces the local presence.
func (n *Node) ChangeStatus(status contact.Status) error {
	return n.discovery.ChangeStatus(status)
}

// InitiateChat opens a chat with the contact called name.
func (n *Node) InitiateChat(ctx context.Context, name string) error {
	if n.discovery.State() != discovery.StateConnected {
		return discovery.ErrNotConnected
	}
	c, err := n.lookup(name)
	if err != nil {
		return err
	}
	return n.chat.Initiate(ctx, c)
}

// SendChat sends text on the open chat with name.
func (n *Node) SendChat(name, text string) error {
	c, err := n.lookup(name)
	if err != nil {
		return err
	}
	return n.chat.Send(c.ID, text)
}

// CloseChat ends the open chat with name.
func (n *Node) CloseChat(name string) error {
	c, err := n.lookup(name)
	if err != nil {
		return err
	}
	return n.chat.Close(c.ID)
}

func (n *Node) lookup(name string) (contact.Contact, error) {
	c, ok := n.registry.LookupByName(name)
	if !ok {
		return contact.Contact{}, fmt.Errorf("%q: %w", name, contact.ErrUnknownContact)
	}
	return c, nil
}

// Self describes the local user. Name is empty before login.
func (n *Node) Self() contact.Contact {
	return contact.Contact{ID: n.local.ID(), Name: n.local.Name(), Status: n.local.Status()}
}

// State returns the login state.
func (n *Node) State() discovery.State {
	return n.discovery.State()
}

// Contacts returns the known peers sorted by name.
func (n *Node) Contacts() []contact.Contact {
	return n.registry.All()
}

// Contact looks up one peer by name.
func (n *Node) Contact(name string) (contact.Contact, bool) {
	return n.registry.LookupByName(name)
}

// IsChatOpen reports whether a chat with name is open.
func (n *Node) IsChatOpen(name string) bool {
	c, ok := n.registry.LookupByName(name)
	return ok && n.chat.IsOpen(c.ID)
}

// OpenChats returns the contacts with an open chat.
func (n *Node) OpenChats() []contact.Contact {
	var out []contact.Contact
	for _, id := range n.chat.Peers() {
		if c, ok := n.registry.LookupByID(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Metrics returns the discovery counters.
func (n *Node) Metrics() discovery.Metrics {
	return n.discovery.Metrics()
}

// Subscribe registers an observer. A buffer of zero uses
// event.DefaultBuffer. The channel closes when the node disconnects.
func (n *Node) Subscribe(buffer int) *event.Subscription {
	return n.bus.Subscribe(buffer)
}
