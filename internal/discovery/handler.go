package discovery

import (
	"errors"

	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/wire"
)

// handle dispatches a decoded message from a peer. While offline only the
// messages that take part in a login negotiation, and departures, are
// processed.
func (s *Server) handle(msg wire.Message) {
	if s.State() == StateOffline {
		switch msg.Type {
		case wire.TypeDiscoverMe, wire.TypeAcknowledgeDiscover, wire.TypeUsernameAlreadyTaken, wire.TypeDisconnect:
		default:
			s.ignore(msg, "not logged in")
			return
		}
	}

	switch msg.Type {
	case wire.TypeDiscoverMe:
		s.onDiscoverMe(msg)
	case wire.TypeAcknowledgeDiscover:
		s.onAcknowledge(msg)
	case wire.TypeUsernameAlreadyTaken:
		if !s.rebut(msg.Text) {
			s.ignore(msg, "no negotiation pending")
		}
	case wire.TypeChangeUsernameRequest:
		s.onChangeUsername(msg)
	case wire.TypeStatusChange:
		s.onStatusChange(msg)
	case wire.TypeDisconnect:
		s.onDisconnect(msg)
	default:
		s.ignore(msg, "not a discovery message")
	}
}

func (s *Server) ignore(msg wire.Message, reason string) {
	s.count(func(m *Metrics) { m.PacketsIgnored++ })
	s.logger.Debug("ignoring message", "type", msg.Type, "peer", msg.Sender, "addr", msg.Addr, "reason", reason)
}

func (s *Server) onDiscoverMe(msg wire.Message) {
	err := s.register(msg)
	if errors.Is(err, contact.ErrNameTaken) {
		// only a user holding or claiming a name rebuts
		if s.local.Name() == "" && s.local.Pending() == "" {
			s.ignore(msg, err.Error())
			return
		}
		s.logger.Info("rebutting username claim", "name", msg.Text, "addr", msg.Addr)
		s.reply(wire.TypeUsernameAlreadyTaken, msg.Text, msg.Addr)
		return
	}
	if err != nil {
		s.ignore(msg, err.Error())
		return
	}

	if name := s.local.Name(); name != "" {
		s.reply(wire.TypeAcknowledgeDiscover, name, msg.Addr)
		s.reply(wire.TypeStatusChange, s.local.Status().String(), s.broadcast)
	}
}

func (s *Server) onAcknowledge(msg wire.Message) {
	if err := s.register(msg); err != nil {
		s.logger.Warn("conflicting acknowledgement", "name", msg.Text, "peer", msg.Sender, "addr", msg.Addr, "error", err)
		s.count(func(m *Metrics) { m.PacketsIgnored++ })
	}
}

// register records the sender of a handshake message and publishes
// ContactDiscovered, or ContactRenamed when a known identity shows up under
// another name. Only the receive loop registers, so the lookup and the
// update cannot interleave with another handshake.
func (s *Server) register(msg wire.Message) error {
	before, known := s.registry.LookupByID(msg.Sender)
	c, err := s.registry.RegisterOrRefresh(msg.Text, msg.Sender, msg.Addr)
	if err != nil {
		return err
	}
	if known && before.Name != c.Name {
		s.logger.Info("contact renamed", "old", before.Name, "peer", c.Name, "addr", c.Addr)
		s.bus.Publish(event.ContactRenamed{Contact: c, OldName: before.Name})
		return nil
	}
	s.count(func(m *Metrics) { m.ContactsDiscovered++ })
	s.logger.Debug("contact discovered", "peer", c.Name, "addr", c.Addr)
	s.bus.Publish(event.ContactDiscovered{Contact: c})
	return nil
}

func (s *Server) onChangeUsername(msg wire.Message) {
	before, after, err := s.registry.Rename(msg.Sender, msg.Text)
	switch {
	case errors.Is(err, contact.ErrNameTaken):
		s.logger.Info("rebutting username change", "name", msg.Text, "peer", msg.Sender)
		s.reply(wire.TypeUsernameAlreadyTaken, msg.Text, msg.Addr)
	case err != nil:
		s.ignore(msg, err.Error())
	default:
		s.bus.Publish(event.ContactRenamed{Contact: after, OldName: before.Name})
	}
}

func (s *Server) onStatusChange(msg wire.Message) {
	status, err := contact.ParseStatus(msg.Text)
	if err != nil {
		s.ignore(msg, err.Error())
		return
	}
	c, err := s.registry.SetStatus(msg.Sender, status)
	if err != nil {
		s.ignore(msg, err.Error())
		return
	}
	s.bus.Publish(event.ContactStatusChanged{Contact: c})
}

func (s *Server) onDisconnect(msg wire.Message) {
	c, ok := s.registry.Remove(msg.Sender)
	if !ok {
		s.ignore(msg, "unknown sender")
		return
	}
	c.Status = contact.Offline
	s.logger.Info("contact left", "peer", c.Name, "addr", c.Addr)
	s.bus.Publish(event.ContactDisconnected{Contact: c})
}
