package contact

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNameTaken is returned when a name belongs to another contact or to
	// the local user.
	ErrNameTaken = errors.New("username already taken")
	// ErrUnknownContact is returned for operations on an identity the
	// registry does not know.
	ErrUnknownContact = errors.New("unknown contact")
	// ErrInvalidName is returned for blank names.
	ErrInvalidName = errors.New("invalid username")
)

// NameTakenError carries the contested name. It matches ErrNameTaken with
// errors.Is.
type NameTakenError struct {
	Name string
}

func (e *NameTakenError) Error() string {
	return fmt.Sprintf("username %q already taken", e.Name)
}

func (e *NameTakenError) Is(target error) bool { return target == ErrNameTaken }

// Registry is the set of known peers, indexed by name and by identity.
// Every method is safe for concurrent use; all mutations happen under a
// single lock so a rename is never observable halfway.
type Registry struct {
	local *Local

	mu     sync.Mutex
	byName map[string]*Contact
	byID   map[uuid.UUID]*Contact
}

// NewRegistry creates an empty registry. Names held by local are never
// accepted for contacts.
func NewRegistry(local *Local) *Registry {
	return &Registry{
		local:  local,
		byName: make(map[string]*Contact),
		byID:   make(map[uuid.UUID]*Contact),
	}
}

// NormalizeName trims surrounding whitespace and rejects empty names.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// checkName must be called with r.mu held. It allows the name if it is
// free or already belongs to id.
func (r *Registry) checkName(name string, id uuid.UUID) error {
	if r.local != nil && r.local.Holds(name) {
		return &NameTakenError{Name: name}
	}
	if c, ok := r.byName[name]; ok && c.ID != id {
		return &NameTakenError{Name: name}
	}
	return nil
}

// RegisterOrRefresh records that the peer id at addr calls itself name.
//
// A known identity keeps its last reported status unless it was Offline,
// in which case it is back Online. A known identity under another name is
// renamed in place. A name held by another
// identity, or by the local user, fails with ErrNameTaken. The address of an
// existing contact never changes.
func (r *Registry) RegisterOrRefresh(name string, id uuid.UUID, addr netip.Addr) (Contact, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return Contact{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkName(name, id); err != nil {
		return Contact{}, err
	}

	if c, ok := r.byName[name]; ok {
		c.revive()
		return *c, nil
	}

	if c, ok := r.byID[id]; ok {
		delete(r.byName, c.Name)
		c.Name = name
		c.revive()
		r.byName[name] = c
		return *c, nil
	}

	c := &Contact{ID: id, Name: name, Addr: addr, Status: Online}
	r.byName[name] = c
	r.byID[id] = c
	return *c, nil
}

// revive marks a contact that was heard from again as reachable.
func (c *Contact) revive() {
	if c.Status == Offline {
		c.Status = Online
	}
}

// Rename changes the name of a known contact and returns the contact as it
// was before and after.
func (r *Registry) Rename(id uuid.UUID, newName string) (before, after Contact, err error) {
	newName, err = NormalizeName(newName)
	if err != nil {
		return Contact{}, Contact{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return Contact{}, Contact{}, ErrUnknownContact
	}
	if err := r.checkName(newName, id); err != nil {
		return Contact{}, Contact{}, err
	}
	before = *c
	delete(r.byName, c.Name)
	c.Name = newName
	r.byName[newName] = c
	return before, *c, nil
}

// SetStatus updates the presence of a known contact.
func (r *Registry) SetStatus(id uuid.UUID, s Status) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return Contact{}, ErrUnknownContact
	}
	c.Status = s
	return *c, nil
}

// LookupByName returns the contact currently called name.
func (r *Registry) LookupByName(name string) (Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// LookupByID returns the contact with the given identity.
func (r *Registry) LookupByID(id uuid.UUID) (Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// All returns a point-in-time copy of every contact, sorted by name.
func (r *Registry) All() []Contact {
	r.mu.Lock()
	out := make([]Contact, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes the contact with the given identity and returns it.
func (r *Registry) Remove(id uuid.UUID) (Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return Contact{}, false
	}
	delete(r.byID, id)
	delete(r.byName, c.Name)
	return *c, true
}

// Clear forgets every contact.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byName)
	clear(r.byID)
}

// Len returns the number of known contacts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
