package memnet

import (
	"context"
	"errors"
	"kniffel/internal/transport"
	"testing"
	"time"
)

func bind(t *testing.T, n *Network, id string) transport.Endpoint {
	t.Helper()
	ep, err := n.Bind(context.Background(), id)
	if err != nil {
		t.Fatalf("Bind(%q): %v", id, err)
	}
	return ep
}

func next(t *testing.T, c transport.Conn) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return transport.Event{}
}

func accept(t *testing.T, ep transport.Endpoint) transport.Conn {
	t.Helper()
	select {
	case c := <-ep.Incoming():
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for incoming conn")
	}
	return nil
}

func TestBind_AssignsAndRejectsTakenIDs(t *testing.T) {
	n := New()
	a := bind(t, n, "")
	if a.ID() == "" {
		t.Fatal("assigned id is empty")
	}
	if _, err := n.Bind(context.Background(), a.ID()); !errors.Is(err, transport.ErrIDTaken) {
		t.Errorf("rebinding %s err = %v, want ErrIDTaken", a.ID(), err)
	}

	a.Close()
	b := bind(t, n, a.ID())
	if b.ID() != a.ID() {
		t.Errorf("rebound id = %q, want %q", b.ID(), a.ID())
	}
}

func TestDial_OpenAndExchange(t *testing.T) {
	n := New()
	alice := bind(t, n, "alice")
	bob := bind(t, n, "bob")

	out, err := alice.Dial("bob")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	in := accept(t, bob)
	if in.Peer() != "alice" || out.Peer() != "bob" {
		t.Errorf("peers = %q/%q, want alice/bob", in.Peer(), out.Peer())
	}
	if ev := next(t, out); ev.Kind != transport.EventOpen {
		t.Fatalf("dialer event = %v, want open", ev.Kind)
	}
	if ev := next(t, in); ev.Kind != transport.EventOpen {
		t.Fatalf("acceptor event = %v, want open", ev.Kind)
	}

	for _, msg := range []string{"one", "two", "three"} {
		if err := out.Send([]byte(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		ev := next(t, in)
		if ev.Kind != transport.EventData || string(ev.Data) != want {
			t.Errorf("event = %v %q, want data %q", ev.Kind, ev.Data, want)
		}
	}

	out.Close()
	if ev := next(t, in); ev.Kind != transport.EventClose {
		t.Errorf("acceptor event = %v, want close", ev.Kind)
	}
	if _, ok := <-in.Events(); ok {
		t.Error("events channel should be closed after close event")
	}
	if err := in.Send([]byte("late")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after close err = %v, want ErrClosed", err)
	}
}

func TestDial_UnknownPeerErrors(t *testing.T) {
	n := New()
	alice := bind(t, n, "alice")

	c, err := alice.Dial("ghost")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ev := next(t, c)
	if ev.Kind != transport.EventError || !errors.Is(ev.Err, transport.ErrPeerUnavailable) {
		t.Errorf("event = %v %v, want peer-unavailable error", ev.Kind, ev.Err)
	}
	if n.Dials("ghost") != 1 {
		t.Errorf("Dials(ghost) = %d, want 1", n.Dials("ghost"))
	}
}

func TestDial_BlackholeNeverOpens(t *testing.T) {
	n := New()
	alice := bind(t, n, "alice")
	bind(t, n, "bob")
	n.Blackhole("bob", true)

	c, _ := alice.Dial("bob")
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %v on blackholed dial", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	c.Close()
	if ev := next(t, c); ev.Kind != transport.EventClose {
		t.Errorf("event after Close = %v, want close", ev.Kind)
	}
}

func TestDrop_ClosesEndpointAndConns(t *testing.T) {
	n := New()
	alice := bind(t, n, "alice")
	bob := bind(t, n, "bob")
	out, _ := alice.Dial("bob")
	in := accept(t, bob)
	next(t, out)
	next(t, in)

	cause := errors.New("signalling lost")
	n.Drop("alice", cause)

	select {
	case <-alice.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Drop")
	}
	if !errors.Is(alice.Err(), cause) {
		t.Errorf("Err() = %v, want %v", alice.Err(), cause)
	}
	if ev := next(t, in); ev.Kind != transport.EventClose {
		t.Errorf("remote event = %v, want close", ev.Kind)
	}
	if _, err := alice.Dial("bob"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Dial after drop err = %v, want ErrClosed", err)
	}
}
