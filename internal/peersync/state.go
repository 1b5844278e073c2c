package peersync

// ConnState is the lifecycle of one connection to a remote peer. Dialing and
// Accepting are both "connecting": the first was started by us, the second by
// the remote side.
type ConnState int

const (
	Absent ConnState = iota
	Dialing
	Accepting
	Open
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Dialing:
		return "dialing"
	case Accepting:
		return "accepting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Connecting reports whether the channel is still waiting to open.
func (s ConnState) Connecting() bool {
	return s == Dialing || s == Accepting
}

type EventKind int

const (
	EvDial EventKind = iota
	EvAccept
	EvOpen
	EvData
	EvClose
	EvError
	EvTimeout
	EvRemove
)

func (k EventKind) String() string {
	switch k {
	case EvDial:
		return "dial"
	case EvAccept:
		return "accept"
	case EvOpen:
		return "open"
	case EvData:
		return "data"
	case EvClose:
		return "close"
	case EvError:
		return "error"
	case EvTimeout:
		return "timeout"
	case EvRemove:
		return "remove"
	}
	return "unknown"
}

// Effect is the set of side effects a transition asks the engine to perform.
type Effect uint

const (
	// EffectPersist records the peer in the directory.
	EffectPersist Effect = 1 << iota
	// EffectJoinSync sends the current game state to the peer.
	EffectJoinSync
	// EffectResolve completes a pending connect successfully.
	EffectResolve
	// EffectReject fails a pending connect.
	EffectReject
	// EffectDeliver hands a received message to the update callback.
	EffectDeliver
	// EffectClose closes the transport channel.
	EffectClose
	// EffectDrop removes the connection from the active set.
	EffectDrop
)

func (e Effect) Has(f Effect) bool { return e&f != 0 }

// Step is the per-connection transition function. Events that make no sense in
// the current state leave it unchanged with no effects.
//
// Only the accepting side sends the join sync: the dialer is the one joining
// and adopts the state of the peer it dialed.
func Step(s ConnState, ev EventKind) (ConnState, Effect) {
	switch s {
	case Absent:
		switch ev {
		case EvDial:
			return Dialing, 0
		case EvAccept:
			return Accepting, 0
		}
	case Dialing, Accepting:
		switch ev {
		case EvOpen:
			if s == Dialing {
				return Open, EffectPersist | EffectResolve
			}
			return Open, EffectPersist | EffectJoinSync
		case EvClose, EvError:
			return Closed, EffectReject | EffectDrop
		case EvTimeout, EvRemove:
			return Closed, EffectReject | EffectClose | EffectDrop
		}
	case Open:
		switch ev {
		case EvData:
			return Open, EffectDeliver
		case EvClose, EvError:
			return Closed, EffectDrop
		case EvRemove:
			return Closed, EffectClose | EffectDrop
		}
	}
	return s, 0
}
