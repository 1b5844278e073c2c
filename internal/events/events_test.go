package events

import (
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("NewBus() returned nil")
	}
	if bus.StateChanges == nil || bus.PeerChanges == nil {
		t.Fatal("bus channels are nil")
	}
}

func TestBus_NotifyState(t *testing.T) {
	bus := NewBus()

	go bus.NotifyState("peer-1")

	select {
	case ev := <-bus.StateChanges:
		if ev.Origin != "peer-1" {
			t.Errorf("Origin = %q, want %q", ev.Origin, "peer-1")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_Coalesces(t *testing.T) {
	bus := NewBus()

	// Must not block with nobody reading
	for i := 0; i < 10; i++ {
		bus.NotifyState("")
		bus.NotifyPeers()
	}

	<-bus.StateChanges
	<-bus.PeerChanges
	select {
	case <-bus.StateChanges:
		t.Fatal("expected a single pending state notification")
	case <-bus.PeerChanges:
		t.Fatal("expected a single pending peer notification")
	default:
	}
}
