package events

// StateChanged signals that the game state was replaced. Origin is the peer
// whose snapshot caused it, or empty for local edits.
type StateChanged struct {
	Origin string
}

// PeersChanged signals that the sync engine's status moved.
type PeersChanged struct{}

// Bus carries change notifications from the core to presentation. Channels hold
// at most one pending notification; consumers re-read current state on receipt,
// so a burst of changes coalesces into one.
type Bus struct {
	StateChanges chan StateChanged
	PeerChanges  chan PeersChanged
}

func NewBus() *Bus {
	return &Bus{
		StateChanges: make(chan StateChanged, 1),
		PeerChanges:  make(chan PeersChanged, 1),
	}
}

// NotifyState never blocks.
func (b *Bus) NotifyState(origin string) {
	select {
	case b.StateChanges <- StateChanged{Origin: origin}:
	default:
	}
}

// NotifyPeers never blocks.
func (b *Bus) NotifyPeers() {
	select {
	case b.PeerChanges <- PeersChanged{}:
	default:
	}
}
