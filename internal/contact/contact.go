// Package contact holds the local model of remote peers and the registry
// that keeps their names unique.
package contact

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// Status is the presence a peer advertises.
type Status int

const (
	Online Status = iota
	DoNotDisturb
	Away
	Offline
)

var statusNames = map[Status]string{
	Online:       "ONLINE",
	DoNotDisturb: "DO_NOT_DISTURB",
	Away:         "AWAY",
	Offline:      "OFFLINE",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Label is the human readable form. The local user going OFFLINE is shown
// as invisible since it still receives traffic.
func (s Status) Label(self bool) string {
	switch s {
	case Online:
		return "online"
	case DoNotDisturb:
		return "do not disturb"
	case Away:
		return "away"
	case Offline:
		if self {
			return "invisible"
		}
		return "offline"
	}
	return s.String()
}

// ParseStatus accepts the wire names, case-insensitively, plus a few
// shorthands typed by users.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ONLINE":
		return Online, nil
	case "DO_NOT_DISTURB", "DND", "DO-NOT-DISTURB":
		return DoNotDisturb, nil
	case "AWAY":
		return Away, nil
	case "OFFLINE", "INVISIBLE":
		return Offline, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Contact is a snapshot of a remote peer. Values handed out by the Registry
// are copies; changing them does not affect the registry.
type Contact struct {
	ID     uuid.UUID
	Name   string
	Addr   netip.Addr
	Status Status
}

// Reachable reports whether a chat may be opened with the contact.
func (c Contact) Reachable() bool {
	return c.Status != Offline
}

func (c Contact) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Addr)
}
