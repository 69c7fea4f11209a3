package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peder1981/lanchat/internal/chat"
	"github.com/peder1981/lanchat/internal/config"
	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/discovery"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/portmanager"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type peer struct {
	*Node
	events *event.Subscription
}

// startPair runs two nodes on loopback whose discovery and chat ports are
// crossed, the way two instances share one machine.
func startPair(t *testing.T) (p1, p2 peer) {
	t.Helper()
	ports, err := portmanager.New().GetAvailablePorts(4)
	if err != nil {
		t.Fatalf("ports: %v", err)
	}
	build := func(recv, send, chatPort, peerPort int) peer {
		cfg := config.NewDefaultConfig()
		cfg.Discovery.ReceivePort, cfg.Discovery.SendPort = recv, send
		cfg.Discovery.BroadcastAddress = "127.0.0.1"
		cfg.Discovery.NegotiationTimeout = config.Duration{Duration: 200 * time.Millisecond}
		cfg.Chat.Port, cfg.Chat.PeerPort = chatPort, peerPort
		cfg.Chat.DialTimeout = config.Duration{Duration: time.Second}

		n, err := New(&cfg, Options{Logger: testLogger()})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		events := n.Subscribe(128)
		if err := n.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() { n.Disconnect() })
		return peer{Node: n, events: events}
	}
	p1 = build(ports[0], ports[1], ports[2], ports[3])
	p2 = build(ports[1], ports[0], ports[3], ports[2])
	return p1, p2
}

func waitFor[T event.Event](t *testing.T, sub *event.Subscription) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed while waiting for %T", *new(T))
			}
			if v, ok := e.(T); ok {
				return v
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %T", *new(T))
		}
	}
}

// loginBoth logs p2 in as bob, then p1 as alice.
func loginBoth(t *testing.T, p1, p2 peer) {
	t.Helper()
	if err := p2.AttemptLogin("bob"); err != nil {
		t.Fatalf("bob login: %v", err)
	}
	waitFor[event.LoginSucceeded](t, p2.events)
	if err := p1.AttemptLogin("alice"); err != nil {
		t.Fatalf("alice login: %v", err)
	}
	waitFor[event.LoginSucceeded](t, p1.events)
	if e := waitFor[event.ContactDiscovered](t, p2.events); e.Contact.Name != "alice" {
		t.Fatalf("bob discovered %+v", e.Contact)
	}
}

func TestDiscoveryBetweenNodes(t *testing.T) {
	p1, p2 := startPair(t)
	loginBoth(t, p1, p2)

	bob, ok := p1.Contact("bob")
	if !ok || bob.Status != contact.Online || bob.ID != p2.Self().ID {
		t.Fatalf("alice's view of bob = %+v, %v", bob, ok)
	}
	if got := p2.Contacts(); len(got) != 1 || got[0].Name != "alice" {
		t.Fatalf("bob's contacts = %+v", got)
	}
	if p1.State() != discovery.StateConnected || p1.Self().Name != "alice" {
		t.Errorf("alice self = %+v state %v", p1.Self(), p1.State())
	}

	if err := p1.ChangeUsername("bob"); !errors.Is(err, contact.ErrNameTaken) {
		t.Errorf("rename to a known name error = %v", err)
	}

	if err := p2.ChangeStatus(contact.Away); err != nil {
		t.Fatal(err)
	}
	for {
		e := waitFor[event.ContactStatusChanged](t, p1.events)
		if e.Contact.Name == "bob" && e.Contact.Status == contact.Away {
			break
		}
	}

	if err := p2.ChangeUsername("robert"); err != nil {
		t.Fatal(err)
	}
	r := waitFor[event.ContactRenamed](t, p1.events)
	if r.OldName != "bob" || r.Contact.Name != "robert" {
		t.Errorf("ContactRenamed = %+v", r)
	}
	waitFor[event.UsernameChanged](t, p2.events)
	if _, ok := p1.Contact("bob"); ok {
		t.Error("old name still registered")
	}
}

// TestJoiningPeerLearnsStatus checks that a node logging in ends up with
// the last status its peers broadcast, not just ONLINE.
func TestJoiningPeerLearnsStatus(t *testing.T) {
	p1, p2 := startPair(t)
	if err := p2.AttemptLogin("bob"); err != nil {
		t.Fatalf("bob login: %v", err)
	}
	waitFor[event.LoginSucceeded](t, p2.events)
	if err := p2.ChangeStatus(contact.Away); err != nil {
		t.Fatal(err)
	}

	if err := p1.AttemptLogin("alice"); err != nil {
		t.Fatalf("alice login: %v", err)
	}
	waitFor[event.LoginSucceeded](t, p1.events)

	deadline := time.Now().Add(3 * time.Second)
	for {
		bob, ok := p1.Contact("bob")
		if ok && bob.Status == contact.Away {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alice's view of bob = %+v, %v; want AWAY", bob, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatBetweenNodes(t *testing.T) {
	p1, p2 := startPair(t)
	loginBoth(t, p1, p2)

	if err := p1.InitiateChat(context.Background(), "bob"); err != nil {
		t.Fatalf("InitiateChat: %v", err)
	}
	if e := waitFor[event.ChatInitiated](t, p2.events); e.Contact.Name != "alice" {
		t.Errorf("ChatInitiated = %+v", e.Contact)
	}
	if !p1.IsChatOpen("bob") || !p2.IsChatOpen("alice") {
		t.Fatal("chat not open on both nodes")
	}
	if open := p1.OpenChats(); len(open) != 1 || open[0].Name != "bob" {
		t.Errorf("OpenChats = %+v", open)
	}

	if err := p1.SendChat("bob", "hi"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if m := waitFor[event.ChatMessageReceived](t, p2.events); m.Text != "hi" || m.Contact.Name != "alice" {
		t.Errorf("ChatMessageReceived = %+v", m)
	}

	if err := p1.CloseChat("bob"); err != nil {
		t.Fatalf("CloseChat: %v", err)
	}
	waitFor[event.ChatClosed](t, p1.events)
	waitFor[event.ChatClosed](t, p2.events)
	if err := p1.SendChat("bob", "still there?"); !errors.Is(err, chat.ErrNoChannel) {
		t.Errorf("SendChat after close error = %v", err)
	}
	if p1.IsChatOpen("bob") || p2.IsChatOpen("alice") {
		t.Error("chat open after close")
	}

	if err := p1.SendChat("nobody", "hello"); !errors.Is(err, contact.ErrUnknownContact) {
		t.Errorf("SendChat to unknown error = %v", err)
	}
}

func TestChatRefusedForOfflinePeer(t *testing.T) {
	p1, p2 := startPair(t)
	loginBoth(t, p1, p2)

	if err := p2.ChangeStatus(contact.Offline); err != nil {
		t.Fatal(err)
	}
	for {
		e := waitFor[event.ContactStatusChanged](t, p1.events)
		if e.Contact.Status == contact.Offline {
			break
		}
	}
	if err := p1.InitiateChat(context.Background(), "bob"); !errors.Is(err, chat.ErrPeerOffline) {
		t.Errorf("InitiateChat error = %v; want ErrPeerOffline", err)
	}
}

func TestInitiateChatBeforeLogin(t *testing.T) {
	p1, _ := startPair(t)
	if err := p1.InitiateChat(context.Background(), "bob"); !errors.Is(err, discovery.ErrNotConnected) {
		t.Errorf("InitiateChat error = %v", err)
	}
}

func TestPeerDisconnectClosesChat(t *testing.T) {
	p1, p2 := startPair(t)
	loginBoth(t, p1, p2)
	if err := p1.InitiateChat(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	waitFor[event.ChatInitiated](t, p2.events)

	if err := p2.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if e := waitFor[event.ContactDisconnected](t, p1.events); e.Contact.Name != "bob" || e.Contact.Status != contact.Offline {
		t.Errorf("ContactDisconnected = %+v", e.Contact)
	}
	waitFor[event.ChatClosed](t, p1.events)
	if len(p1.Contacts()) != 0 {
		t.Errorf("contacts after disconnect = %+v", p1.Contacts())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	p1, _ := startPair(t)
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p1.Disconnect()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Disconnect: %v", err)
		}
	}
	if err := p1.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if err := p1.AttemptLogin("late"); !errors.Is(err, discovery.ErrClosed) {
		t.Errorf("AttemptLogin after Disconnect error = %v", err)
	}
}
