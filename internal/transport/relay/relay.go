// Package relay connects to a rendezvous broker over a websocket and tunnels
// peer channels through it. One websocket carries every channel of an
// endpoint; frames are JSON text messages.
package relay

import (
	"context"
	"fmt"
	"kniffel/internal/transport"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	bindWait   = 10 * time.Second
)

// Frame types and broker error codes.
const (
	frameOpen   = "open"
	frameError  = "error"
	frameOffer  = "offer"
	frameAnswer = "answer"
	frameData   = "data"
	frameClose  = "close"

	codeIDTaken         = "id-taken"
	codePeerUnavailable = "peer-unavailable"
)

type frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Src     string `json:"src,omitempty"`
	Dst     string `json:"dst,omitempty"`
	CID     string `json:"cid,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Network struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func New(brokerURL string, log zerolog.Logger) *Network {
	return &Network{
		url:    brokerURL,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "relay").Logger(),
	}
}

func (n *Network) Bind(ctx context.Context, id string) (transport.Endpoint, error) {
	u, err := url.Parse(n.url)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}

	ws, _, err := n.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(bindWait))
	var hello frame
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("waiting for relay greeting: %w", err)
	}
	switch {
	case hello.Type == frameError && hello.Error == codeIDTaken:
		ws.Close()
		return nil, fmt.Errorf("binding %s: %w", id, transport.ErrIDTaken)
	case hello.Type == frameError:
		ws.Close()
		return nil, fmt.Errorf("binding %s: relay error %q", id, hello.Error)
	case hello.Type != frameOpen || hello.ID == "":
		ws.Close()
		return nil, fmt.Errorf("binding %s: unexpected %q frame", id, hello.Type)
	}

	ep := &endpoint{
		ws:       ws,
		id:       hello.ID,
		log:      n.log.With().Str("self", hello.ID).Logger(),
		send:     make(chan frame, 64),
		incoming: make(chan transport.Conn, 16),
		done:     make(chan struct{}),
		conns:    make(map[string]*conn),
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go ep.readPump()
	go ep.writePump()
	ep.log.Info().Msg("bound to relay")
	return ep, nil
}

type endpoint struct {
	ws       *websocket.Conn
	id       string
	log      zerolog.Logger
	send     chan frame
	incoming chan transport.Conn
	done     chan struct{}

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	err    error
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
	c := &conn{
		EventQueue: transport.NewEventQueue(),
		ep:         e,
		peer:       remote,
		cid:        uuid.New().String(),
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, transport.ErrClosed
	}
	e.conns[c.cid] = c
	e.mu.Unlock()

	if err := e.enqueue(frame{Type: frameOffer, Dst: remote, CID: c.cid}); err != nil {
		e.forget(c.cid)
		return nil, err
	}
	return c, nil
}

func (e *endpoint) enqueue(f frame) error {
	select {
	case e.send <- f:
		return nil
	case <-e.done:
		return transport.ErrClosed
	}
}

func (e *endpoint) lookup(cid string) *conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[cid]
}

func (e *endpoint) forget(cid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, cid)
}

func (e *endpoint) readPump() {
	for {
		var f frame
		if err := e.ws.ReadJSON(&f); err != nil {
			e.shutdown(fmt.Errorf("relay connection lost: %w", err))
			return
		}
		e.dispatch(f)
	}
}

func (e *endpoint) dispatch(f frame) {
	switch f.Type {
	case frameOffer:
		e.accept(f)
	case frameAnswer:
		if c := e.lookup(f.CID); c != nil {
			c.open()
		}
	case frameData:
		if c := e.lookup(f.CID); c != nil {
			c.Push(transport.Event{Kind: transport.EventData, Data: f.Payload})
		}
	case frameClose:
		if c := e.lookup(f.CID); c != nil {
			e.forget(f.CID)
			c.Push(transport.Event{Kind: transport.EventClose})
		}
	case frameError:
		c := e.lookup(f.CID)
		if c == nil {
			e.log.Warn().Str("error", f.Error).Msg("relay error")
			return
		}
		e.forget(f.CID)
		err := fmt.Errorf("relay error %q", f.Error)
		if f.Error == codePeerUnavailable {
			err = fmt.Errorf("dialing %s: %w", c.peer, transport.ErrPeerUnavailable)
		}
		c.Push(transport.Event{Kind: transport.EventError, Err: err})
	default:
		e.log.Debug().Str("type", f.Type).Msg("ignoring unknown frame")
	}
}

func (e *endpoint) accept(f frame) {
	if f.Src == "" || f.CID == "" {
		return
	}
	c := &conn{
		EventQueue: transport.NewEventQueue(),
		ep:         e,
		peer:       f.Src,
		cid:        f.CID,
	}
	e.mu.Lock()
	e.conns[c.cid] = c
	e.mu.Unlock()

	select {
	case e.incoming <- c:
	default:
		e.log.Warn().Str("peer", f.Src).Msg("incoming backlog full, refusing channel")
		e.forget(c.cid)
		e.enqueue(frame{Type: frameClose, Dst: f.Src, CID: f.CID})
		return
	}
	if err := e.enqueue(frame{Type: frameAnswer, Dst: f.Src, CID: f.CID}); err != nil {
		return
	}
	c.open()
}

func (e *endpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-e.send:
			e.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.ws.WriteJSON(f); err != nil {
				e.shutdown(fmt.Errorf("writing to relay: %w", err))
				return
			}
		case <-ticker.C:
			e.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				e.shutdown(fmt.Errorf("pinging relay: %w", err))
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *endpoint) Close() error {
	e.shutdown(nil)
	return nil
}

func (e *endpoint) shutdown(err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.err = err
	conns := e.conns
	e.conns = make(map[string]*conn)
	close(e.done)
	e.mu.Unlock()

	if err != nil {
		e.log.Warn().Err(err).Msg("relay endpoint closed")
	}
	for _, c := range conns {
		c.Push(transport.Event{Kind: transport.EventClose})
	}
	e.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	e.ws.Close()
}

type conn struct {
	*transport.EventQueue
	ep   *endpoint
	peer string
	cid  string

	mu     sync.Mutex
	opened bool
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
	return c.ep.enqueue(frame{Type: frameData, Dst: c.peer, CID: c.cid, Payload: payload})
}

func (c *conn) Close() error {
	if !c.Push(transport.Event{Kind: transport.EventClose}) {
		return nil
	}
	c.ep.forget(c.cid)
	c.ep.enqueue(frame{Type: frameClose, Dst: c.peer, CID: c.cid})
	return nil
}
