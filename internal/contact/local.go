package contact

import (
	"sync"

	"github.com/google/uuid"
)

// Local is the user running this process. It starts with an empty name; a
// name becomes committed only after a successful negotiation. While a
// negotiation runs the claimed name is held too, so peers racing for it are
// turned away.
type Local struct {
	id uuid.UUID

	mu      sync.RWMutex
	name    string
	pending string
	status  Status
}

// NewLocal creates the local user with a fresh random identity.
func NewLocal() *Local {
	return NewLocalWithID(uuid.New())
}

// NewLocalWithID creates the local user with a fixed identity.
func NewLocalWithID(id uuid.UUID) *Local {
	return &Local{id: id, status: Online}
}

// ID returns the identity token sent with every message.
func (l *Local) ID() uuid.UUID { return l.id }

// Name returns the committed name, empty before login.
func (l *Local) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Pending returns the name being negotiated, if any.
func (l *Local) Pending() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pending
}

// Holds reports whether name is the committed or the pending name.
func (l *Local) Holds(name string) bool {
	if name == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return name == l.name || name == l.pending
}

// Claim marks name as pending.
func (l *Local) Claim(name string) {
	l.mu.Lock()
	l.pending = name
	l.mu.Unlock()
}

// Commit promotes the pending name and returns the previous committed one.
func (l *Local) Commit() (previous string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	previous = l.name
	if l.pending != "" {
		l.name = l.pending
		l.pending = ""
	}
	return previous
}

// Abandon drops the pending name, keeping the committed one.
func (l *Local) Abandon() {
	l.mu.Lock()
	l.pending = ""
	l.mu.Unlock()
}

// Status returns the advertised presence.
func (l *Local) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// SetStatus changes the advertised presence.
func (l *Local) SetStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}
