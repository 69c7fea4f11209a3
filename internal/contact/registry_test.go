package contact

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/google/uuid"
)

var (
	addrA = netip.MustParseAddr("192.168.1.10")
	addrB = netip.MustParseAddr("192.168.1.11")
)

func newTestRegistry() (*Registry, *Local) {
	local := NewLocal()
	return NewRegistry(local), local
}

// TestRegisterNew ensures a first registration creates an online contact.
func TestRegisterNew(t *testing.T) {
	r, _ := newTestRegistry()
	id := uuid.New()
	c, err := r.RegisterOrRefresh("  alice ", id, addrA)
	if err != nil {
		t.Fatalf("RegisterOrRefresh error: %v", err)
	}
	if c.Name != "alice" || c.ID != id || c.Addr != addrA || c.Status != Online {
		t.Errorf("unexpected contact: %+v", c)
	}
	if got, ok := r.LookupByName("alice"); !ok || got != c {
		t.Errorf("LookupByName = %+v, %v", got, ok)
	}
	if got, ok := r.LookupByID(id); !ok || got != c {
		t.Errorf("LookupByID = %+v, %v", got, ok)
	}
}

// TestRegisterConflict checks that a name held by another peer is refused
// and the original holder is kept.
func TestRegisterConflict(t *testing.T) {
	r, _ := newTestRegistry()
	a, b := uuid.New(), uuid.New()
	if _, err := r.RegisterOrRefresh("alice", a, addrA); err != nil {
		t.Fatalf("first register error: %v", err)
	}
	_, err := r.RegisterOrRefresh("alice", b, addrB)
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("second register error = %v; want ErrNameTaken", err)
	}
	var nte *NameTakenError
	if !errors.As(err, &nte) || nte.Name != "alice" {
		t.Errorf("error = %#v; want NameTakenError for alice", err)
	}
	c, ok := r.LookupByName("alice")
	if !ok || c.ID != a || c.Addr != addrA {
		t.Errorf("alice resolves to %+v; want %s at %s", c, a, addrA)
	}
	if _, ok := r.LookupByID(b); ok {
		t.Error("rejected peer was registered")
	}
}

// TestRegisterRenamesInPlace checks the rename path of RegisterOrRefresh.
func TestRegisterRenamesInPlace(t *testing.T) {
	r, _ := newTestRegistry()
	id := uuid.New()
	first, err := r.RegisterOrRefresh("bob", id, addrA)
	if err != nil {
		t.Fatalf("register bob error: %v", err)
	}
	second, err := r.RegisterOrRefresh("bobby", id, addrB)
	if err != nil {
		t.Fatalf("register bobby error: %v", err)
	}
	if _, ok := r.LookupByName("bob"); ok {
		t.Error("old name still resolves")
	}
	got, ok := r.LookupByName("bobby")
	if !ok || got.ID != first.ID {
		t.Errorf("bobby resolves to %+v", got)
	}
	if second.Addr != addrA {
		t.Errorf("address changed to %s; want %s", second.Addr, addrA)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d; want 1", r.Len())
	}
}

// TestRegisterRefresh checks that re-registering marks the contact online.
func TestRegisterRefresh(t *testing.T) {
	r, _ := newTestRegistry()
	id := uuid.New()
	r.RegisterOrRefresh("carol", id, addrA)
	if _, err := r.SetStatus(id, Offline); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	c, err := r.RegisterOrRefresh("carol", id, addrA)
	if err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if c.Status != Online {
		t.Errorf("status = %s; want ONLINE", c.Status)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d; want 1", r.Len())
	}
}

// TestRefreshKeepsStatus covers a handshake arriving after the peer's
// status broadcast.
func TestRefreshKeepsStatus(t *testing.T) {
	r, _ := newTestRegistry()
	id := uuid.New()
	r.RegisterOrRefresh("carol", id, addrA)
	for _, s := range []Status{Away, DoNotDisturb} {
		if _, err := r.SetStatus(id, s); err != nil {
			t.Fatalf("SetStatus error: %v", err)
		}
		c, err := r.RegisterOrRefresh("carol", id, addrA)
		if err != nil {
			t.Fatalf("refresh error: %v", err)
		}
		if c.Status != s {
			t.Errorf("status after refresh = %s; want %s", c.Status, s)
		}
	}

	c, err := r.RegisterOrRefresh("caroline", id, addrA)
	if err != nil {
		t.Fatalf("rename error: %v", err)
	}
	if c.Status != DoNotDisturb {
		t.Errorf("status after rename = %s; want DO_NOT_DISTURB", c.Status)
	}
}

// TestLocalNameRefused ensures the local user's names are never given out.
func TestLocalNameRefused(t *testing.T) {
	r, local := newTestRegistry()
	local.Claim("me")
	local.Commit()

	if _, err := r.RegisterOrRefresh("me", uuid.New(), addrA); !errors.Is(err, ErrNameTaken) {
		t.Errorf("register committed local name error = %v; want ErrNameTaken", err)
	}

	local.Claim("future")
	if _, err := r.RegisterOrRefresh("future", uuid.New(), addrA); !errors.Is(err, ErrNameTaken) {
		t.Errorf("register pending local name error = %v; want ErrNameTaken", err)
	}

	id := uuid.New()
	r.RegisterOrRefresh("dave", id, addrB)
	if _, _, err := r.Rename(id, "me"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("rename to local name error = %v; want ErrNameTaken", err)
	}

	local.Abandon()
	if _, err := r.RegisterOrRefresh("future", uuid.New(), addrA); err != nil {
		t.Errorf("register abandoned name error: %v", err)
	}
}

// TestRename covers the explicit rename operation.
func TestRename(t *testing.T) {
	r, _ := newTestRegistry()
	a, b := uuid.New(), uuid.New()
	r.RegisterOrRefresh("alice", a, addrA)
	r.RegisterOrRefresh("bob", b, addrB)

	before, after, err := r.Rename(a, "alicia")
	if err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if before.Name != "alice" || after.Name != "alicia" || after.ID != a {
		t.Errorf("Rename = %+v -> %+v", before, after)
	}
	if _, ok := r.LookupByName("alice"); ok {
		t.Error("old name still resolves")
	}

	if _, _, err := r.Rename(a, "bob"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("rename onto bob error = %v; want ErrNameTaken", err)
	}
	if _, _, err := r.Rename(uuid.New(), "zed"); !errors.Is(err, ErrUnknownContact) {
		t.Errorf("rename unknown error = %v; want ErrUnknownContact", err)
	}
	if _, _, err := r.Rename(a, "   "); !errors.Is(err, ErrInvalidName) {
		t.Errorf("rename blank error = %v; want ErrInvalidName", err)
	}
	if _, _, err := r.Rename(a, "alicia"); err != nil {
		t.Errorf("rename to own name error: %v", err)
	}
}

// TestAllIsSnapshot ensures the returned slice is detached from the registry.
func TestAllIsSnapshot(t *testing.T) {
	r, _ := newTestRegistry()
	r.RegisterOrRefresh("zoe", uuid.New(), addrA)
	r.RegisterOrRefresh("adam", uuid.New(), addrB)

	all := r.All()
	if len(all) != 2 || all[0].Name != "adam" || all[1].Name != "zoe" {
		t.Fatalf("All = %+v", all)
	}
	all[0].Name = "mallory"
	all[0].Status = Offline
	if _, ok := r.LookupByName("mallory"); ok {
		t.Error("mutating snapshot changed the registry")
	}
	if c, _ := r.LookupByName("adam"); c.Status != Online {
		t.Error("mutating snapshot changed a status")
	}
}

// TestRemoveAndClear covers removal paths.
func TestRemoveAndClear(t *testing.T) {
	r, _ := newTestRegistry()
	a := uuid.New()
	r.RegisterOrRefresh("alice", a, addrA)
	r.RegisterOrRefresh("bob", uuid.New(), addrB)

	c, ok := r.Remove(a)
	if !ok || c.Name != "alice" {
		t.Fatalf("Remove = %+v, %v", c, ok)
	}
	if _, ok := r.LookupByName("alice"); ok {
		t.Error("removed contact still resolves by name")
	}
	if _, ok := r.Remove(a); ok {
		t.Error("second Remove reported success")
	}
	if _, err := r.RegisterOrRefresh("alice", uuid.New(), addrB); err != nil {
		t.Errorf("name not freed after Remove: %v", err)
	}

	r.Clear()
	if r.Len() != 0 || len(r.All()) != 0 {
		t.Errorf("Clear left %d contacts", r.Len())
	}
}

// TestSetStatusUnknown ensures unknown identities are reported.
func TestSetStatusUnknown(t *testing.T) {
	r, _ := newTestRegistry()
	if _, err := r.SetStatus(uuid.New(), Away); !errors.Is(err, ErrUnknownContact) {
		t.Errorf("SetStatus error = %v; want ErrUnknownContact", err)
	}
}

// TestConcurrentClaims races many peers for the same names and checks the
// uniqueness invariants afterwards.
func TestConcurrentClaims(t *testing.T) {
	r, _ := newTestRegistry()
	const peers = 20
	ids := make([]uuid.UUID, peers)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := fmt.Sprintf("user%d", (i+j)%5)
				r.RegisterOrRefresh(name, ids[i], addrA)
				r.Rename(ids[i], fmt.Sprintf("user%d", j%7))
				r.LookupByName(name)
				r.All()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]uuid.UUID)
	for _, c := range r.All() {
		if other, dup := seen[c.Name]; dup {
			t.Errorf("name %q held by %s and %s", c.Name, other, c.ID)
		}
		seen[c.Name] = c.ID
		got, ok := r.LookupByName(c.Name)
		if !ok || got.ID != c.ID {
			t.Errorf("name index for %q points to %+v", c.Name, got)
		}
	}
}

// TestParseStatus covers wire names and shorthands.
func TestParseStatus(t *testing.T) {
	for _, s := range []Status{Online, DoNotDisturb, Away, Offline} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if got, err := ParseStatus("dnd"); err != nil || got != DoNotDisturb {
		t.Errorf("ParseStatus(dnd) = %v, %v", got, err)
	}
	if _, err := ParseStatus("sleeping"); err == nil {
		t.Error("ParseStatus accepted an unknown status")
	}
}
