// Package memnet is an in-process peer network. Endpoints bound to the same
// Network can dial each other by id; channels are reliable and ordered.
package memnet

import (
	"context"
	"fmt"
	"kniffel/internal/peers"
	"kniffel/internal/transport"
	"sync"
)

type Network struct {
	mu         sync.Mutex
	endpoints  map[string]*endpoint
	blackholed map[string]bool
	dials      map[string]int
}

func New() *Network {
	return &Network{
		endpoints:  make(map[string]*endpoint),
		blackholed: make(map[string]bool),
		dials:      make(map[string]int),
	}
}

func (n *Network) Bind(ctx context.Context, id string) (transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if id == "" {
		for {
			generated, err := peers.GenerateID()
			if err != nil {
				return nil, fmt.Errorf("generating id: %w", err)
			}
			if _, taken := n.endpoints[generated]; !taken {
				id = generated
				break
			}
		}
	} else if _, taken := n.endpoints[id]; taken {
		return nil, fmt.Errorf("binding %s: %w", id, transport.ErrIDTaken)
	}

	ep := &endpoint{
		net:      n,
		id:       id,
		incoming: make(chan transport.Conn, 16),
		done:     make(chan struct{}),
	}
	n.endpoints[id] = ep
	return ep, nil
}

// Blackhole makes dials to id hang without ever opening or failing, as if the
// peer were unreachable behind a dead route.
func (n *Network) Blackhole(id string, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if on {
		n.blackholed[id] = true
	} else {
		delete(n.blackholed, id)
	}
}

// Dials reports how many channels have been dialed to id.
func (n *Network) Dials(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[id]
}

// Drop closes the endpoint bound to id with err, as if its signalling
// connection had been lost.
func (n *Network) Drop(id string, err error) {
	n.mu.Lock()
	ep := n.endpoints[id]
	n.mu.Unlock()
	if ep != nil {
		ep.shutdown(err)
	}
}

type endpoint struct {
	net      *Network
	id       string
	incoming chan transport.Conn
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
	conns  []*conn
}

func (e *endpoint) ID() string                      { return e.id }
func (e *endpoint) Incoming() <-chan transport.Conn { return e.incoming }
func (e *endpoint) Done() <-chan struct{}           { return e.done }

func (e *endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *endpoint) Dial(remote string) (transport.Conn, error) {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, transport.ErrClosed
	}
	e.mu.Unlock()

	n.dials[remote]++
	local := newConn(remote)
	e.track(local)

	if n.blackholed[remote] {
		return local, nil
	}
	target, ok := n.endpoints[remote]
	if !ok || !target.accepting() {
		local.Push(transport.Event{
			Kind: transport.EventError,
			Err:  fmt.Errorf("dialing %s: %w", remote, transport.ErrPeerUnavailable),
		})
		return local, nil
	}

	accepted := newConn(e.id)
	local.remote, accepted.remote = accepted, local
	select {
	case target.incoming <- accepted:
	default:
		local.Push(transport.Event{
			Kind: transport.EventError,
			Err:  fmt.Errorf("dialing %s: backlog full: %w", remote, transport.ErrPeerUnavailable),
		})
		return local, nil
	}
	target.track(accepted)
	local.open()
	accepted.open()
	return local, nil
}

func (e *endpoint) accepting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

func (e *endpoint) track(c *conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = append(e.conns, c)
}

func (e *endpoint) Close() error {
	e.shutdown(nil)
	return nil
}

func (e *endpoint) shutdown(err error) {
	e.net.mu.Lock()
	if e.net.endpoints[e.id] == e {
		delete(e.net.endpoints, e.id)
	}
	e.net.mu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.err = err
	conns := e.conns
	e.conns = nil
	close(e.done)
	e.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// conn is one side of a channel.
type conn struct {
	*transport.EventQueue
	peer   string
	remote *conn

	mu     sync.Mutex
	opened bool
}

func newConn(peer string) *conn {
	return &conn{EventQueue: transport.NewEventQueue(), peer: peer}
}

func (c *conn) Peer() string { return c.peer }

func (c *conn) open() {
	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	c.Push(transport.Event{Kind: transport.EventOpen})
}

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened || c.Finished() {
		return transport.ErrClosed
	}
	payload := append([]byte(nil), data...)
	if !c.remote.Push(transport.Event{Kind: transport.EventData, Data: payload}) {
		return transport.ErrClosed
	}
	return nil
}

func (c *conn) Close() error {
	if !c.Push(transport.Event{Kind: transport.EventClose}) {
		return nil
	}
	if c.remote != nil {
		c.remote.Push(transport.Event{Kind: transport.EventClose})
	}
	return nil
}
