package discovery

import (
	"fmt"
	"time"

	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/wire"
)

// negotiation is one optimistic name claim. Exactly one of the timer or a
// rebuttal resolves it: whichever clears s.pending first.
type negotiation struct {
	name  string
	login bool
	timer *time.Timer
}

// AttemptLogin claims name on the segment. It returns once the claim is
// broadcast; the outcome arrives as LoginSucceeded or UsernameTaken.
func (s *Server) AttemptLogin(name string) error {
	return s.claim(name, true)
}

// ChangeUsername claims a new name for a logged in user. The outcome
// arrives as UsernameChanged or UsernameTaken.
func (s *Server) ChangeUsername(name string) error {
	return s.claim(name, false)
}

func (s *Server) claim(name string, login bool) error {
	name, err := contact.NormalizeName(name)
	if err != nil {
		return err
	}
	t := wire.TypeDiscoverMe
	if !login {
		t = wire.TypeChangeUsernameRequest
	}
	pkt, err := wire.EncodeDatagram(wire.New(s.local.ID(), t, name, s.broadcast))
	if err != nil {
		return fmt.Errorf("username %q: %w", name, err)
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.pending != nil:
		s.mu.Unlock()
		return ErrNegotiating
	case login && s.state != StateOffline:
		s.mu.Unlock()
		return ErrAlreadyConnected
	case !login && s.state != StateConnected:
		s.mu.Unlock()
		return ErrNotConnected
	case !login && name == s.local.Name():
		s.mu.Unlock()
		return ErrSameName
	}
	if _, taken := s.registry.LookupByName(name); taken {
		s.mu.Unlock()
		return &contact.NameTakenError{Name: name}
	}
	s.local.Claim(name)
	n := &negotiation{name: name, login: login}
	s.pending = n
	if login {
		s.state = StateClaiming
	}
	n.timer = time.AfterFunc(s.timeout, func() { s.resolve(n, true) })
	s.mu.Unlock()

	s.logger.Debug("claiming username", "name", name, "login", login)
	if err := s.write(pkt, s.broadcast); err != nil {
		s.cancel(n)
		return fmt.Errorf("announce username %q: %w", name, err)
	}
	return nil
}

// resolve settles n if it is still pending. accepted means the timer ran
// out without a rebuttal.
func (s *Server) resolve(n *negotiation, accepted bool) {
	s.mu.Lock()
	if s.pending != n {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	n.timer.Stop()

	var e event.Event
	if accepted {
		previous := s.local.Commit()
		if n.login {
			s.state = StateConnected
			e = event.LoginSucceeded{Name: n.name}
		} else {
			e = event.UsernameChanged{OldName: previous, NewName: n.name}
		}
	} else {
		s.local.Abandon()
		if n.login {
			s.state = StateOffline
		}
		e = event.UsernameTaken{Name: n.name, Login: n.login}
	}
	s.mu.Unlock()

	s.logger.Info("username negotiation resolved", "name", n.name, "login", n.login, "accepted", accepted)
	s.bus.Publish(e)
}

// cancel drops n without publishing anything.
func (s *Server) cancel(n *negotiation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != n {
		return
	}
	s.pending = nil
	n.timer.Stop()
	s.local.Abandon()
	if n.login {
		s.state = StateOffline
	}
}

// rebut resolves the pending negotiation as rejected. A rebuttal naming
// another name than the one being claimed is stale and ignored.
func (s *Server) rebut(name string) bool {
	s.mu.Lock()
	n := s.pending
	s.mu.Unlock()
	if n == nil || (name != "" && name != n.name) {
		return false
	}
	s.resolve(n, false)
	return true
}
