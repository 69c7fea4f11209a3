// Package event defines what the core tells its observers and the bus that
// fans those notifications out.
//
// Every notification is a distinct type implementing Event; observers
// receive them on a channel and switch on the concrete type.
package event

import (
	"github.com/peder1981/lanchat/internal/contact"
)

// Event is implemented by every notification published on a Bus.
type Event interface {
	event()
}

// ContactDiscovered is published when a discovery handshake registers or
// refreshes a peer.
type ContactDiscovered struct {
	Contact contact.Contact
}

// ContactDisconnected is published when a peer announces it is leaving.
// Contact.Status is Offline.
type ContactDisconnected struct {
	Contact contact.Contact
}

// ContactRenamed is published when a peer's username change is accepted.
type ContactRenamed struct {
	Contact contact.Contact
	OldName string
}

// ContactStatusChanged is published when a peer broadcasts a new status.
type ContactStatusChanged struct {
	Contact contact.Contact
}

// LoginSucceeded is published when the login negotiation timer expires
// without a rebuttal.
type LoginSucceeded struct {
	Name string
}

// UsernameTaken is published when a peer rebuts a name claim. Login tells
// whether the claim was an initial login or a rename.
type UsernameTaken struct {
	Name  string
	Login bool
}

// UsernameChanged is published when a rename negotiation succeeds.
type UsernameChanged struct {
	OldName string
	NewName string
}

// StatusChanged is published when the local status changes.
type StatusChanged struct {
	Status contact.Status
}

// ChatInitiated is published when a peer opens and identifies a chat
// channel with us.
type ChatInitiated struct {
	Contact contact.Contact
}

// ChatMessageReceived carries one chat line from a peer.
type ChatMessageReceived struct {
	Contact contact.Contact
	Text    string
}

// ChatClosed is published once per identified channel when it ends,
// whichever side closed it.
type ChatClosed struct {
	Contact contact.Contact
}

func (ContactDiscovered) event()    {}
func (ContactDisconnected) event()  {}
func (ContactRenamed) event()       {}
func (ContactStatusChanged) event() {}
func (LoginSucceeded) event()       {}
func (UsernameTaken) event()        {}
func (UsernameChanged) event()      {}
func (StatusChanged) event()        {}
func (ChatInitiated) event()        {}
func (ChatMessageReceived) event()  {}
func (ChatClosed) event()           {}
