package peersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"kniffel/internal/events"
	"kniffel/internal/metrics"
	"kniffel/internal/peers"
	"kniffel/internal/scoresheet"
	"kniffel/internal/transport"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultConnectTimeout = 10 * time.Second

var (
	ErrNotReady         = errors.New("peer transport not ready")
	ErrConnectTimeout   = errors.New("connection timeout - peer unreachable")
	ErrConnectionClosed = errors.New("connection closed before it opened")
	ErrPeerRemoved      = errors.New("peer removed")
	ErrStopped          = errors.New("sync engine stopped")
)

// MessageSync is the only message type exchanged between peers.
const MessageSync = "sync"

type Message struct {
	Type  string               `json:"type"`
	State scoresheet.GameState `json:"state"`
}

type Config struct {
	// Network may be nil, in which case the engine never becomes ready.
	Network   transport.Network
	Directory *peers.Directory
	// State returns the current local game state for join syncs.
	State func() scoresheet.GameState
	// OnUpdate receives every snapshot sent by a peer. It is called without
	// any engine lock held.
	OnUpdate       func(state scoresheet.GameState, from string)
	ConnectTimeout time.Duration
	// RetryInterval is the period of the background redial of known peers.
	// Zero disables it.
	RetryInterval time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Events        *events.Bus
}

type Status struct {
	SelfID    string   `json:"selfId"`
	Ready     bool     `json:"ready"`
	Connected []string `json:"connected"`
	// Connecting is true while a manual connect is in flight.
	Connecting bool `json:"connecting"`
	// Reconnecting is true while known peers wait for the transport, or while
	// any outbound attempt is in flight.
	Reconnecting bool   `json:"reconnecting"`
	Error        string `json:"error,omitempty"`
}

type entry struct {
	conn   transport.Conn
	state  ConnState
	manual bool
	result chan error
	timer  *time.Timer
}

// finish completes a pending connect exactly once.
func (ent *entry) finish(err error) {
	if ent.result == nil {
		return
	}
	ent.result <- err
	ent.result = nil
}

// Engine keeps one connection per remote peer and syncs full game state over
// them. Each connection's events are handled in order by its own goroutine;
// the connection map is only touched under mu.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	endpoint transport.Endpoint
	selfID   string
	lastErr  error
	conns    map[string]*entry
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc

	// sendMu orders broadcasts and join syncs; latest is the last broadcast.
	sendMu sync.Mutex
	latest []byte

	wg sync.WaitGroup
}

func New(cfg Config) *Engine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Engine{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "peersync").Logger(),
		conns: make(map[string]*entry),
	}
}

// Start binds the transport, re-using the stored self id if there is one, and
// silently reconnects to every known peer. A bind failure leaves the engine
// running but not ready; it is returned and reported in Status. Start must be
// called once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("sync engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	if e.cfg.RetryInterval > 0 {
		e.wg.Add(1)
		go e.retryLoop(runCtx)
	}

	if e.cfg.Network == nil {
		e.setError(errors.New("no peer transport configured"))
		return ErrNotReady
	}
	return e.bringUp(runCtx, e.cfg.Directory.SelfID())
}

// Stop closes every connection and the endpoint and waits for background
// work to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped || !e.started {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	entries, ep := e.detachLocked(ErrStopped)
	e.mu.Unlock()

	e.cancel()
	for _, ent := range entries {
		ent.conn.Close()
	}
	if ep != nil {
		ep.Close()
	}
	e.wg.Wait()
	e.cfg.Metrics.SetConnected(0)
	e.log.Info().Msg("sync engine stopped")
}

// detachLocked empties the connection map, fails pending connects with err and
// forgets the endpoint. The caller closes what is returned.
func (e *Engine) detachLocked(err error) ([]*entry, transport.Endpoint) {
	entries := make([]*entry, 0, len(e.conns))
	for _, ent := range e.conns {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		ent.finish(err)
		ent.state = Closed
		entries = append(entries, ent)
	}
	e.conns = make(map[string]*entry)
	ep := e.endpoint
	e.endpoint = nil
	return entries, ep
}

func (e *Engine) bringUp(ctx context.Context, id string) error {
	if err := e.bind(ctx, id); err != nil {
		return err
	}
	e.reconnectAll(ctx)
	return nil
}

func (e *Engine) bind(ctx context.Context, id string) error {
	ep, err := e.cfg.Network.Bind(ctx, id)
	if err != nil {
		err = fmt.Errorf("binding peer id %q: %w", id, err)
		e.setError(err)
		e.log.Error().Err(err).Msg("peer transport unavailable")
		return err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		ep.Close()
		return ErrStopped
	}
	e.endpoint = ep
	e.selfID = ep.ID()
	e.lastErr = nil
	e.mu.Unlock()

	e.cfg.Directory.SetSelfID(ep.ID())
	e.log.Info().Str("self", ep.ID()).Msg("peer transport ready")
	e.notify()

	e.wg.Add(1)
	go e.acceptLoop(ctx, ep)
	return nil
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) acceptLoop(ctx context.Context, ep transport.Endpoint) {
	defer e.wg.Done()
	for {
		select {
		case c := <-ep.Incoming():
			e.accept(c)
		case <-ep.Done():
			e.endpointLost(ep)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) endpointLost(ep transport.Endpoint) {
	e.mu.Lock()
	if e.endpoint != ep {
		e.mu.Unlock()
		return
	}
	e.endpoint = nil
	e.lastErr = ep.Err()
	if e.lastErr == nil {
		e.lastErr = errors.New("peer transport closed")
	}
	err := e.lastErr
	e.mu.Unlock()

	e.log.Warn().Err(err).Msg("lost peer transport")
	e.notify()
}

func (e *Engine) accept(c transport.Conn) {
	peer := c.Peer()
	e.mu.Lock()
	if existing, ok := e.conns[peer]; ok && (existing.state == Open || existing.state.Connecting()) {
		e.mu.Unlock()
		e.log.Debug().Str("peer", peer).Msg("closing duplicate inbound connection")
		c.Close()
		go drain(c)
		return
	}
	ent := &entry{conn: c}
	ent.state, _ = Step(Absent, EvAccept)
	e.conns[peer] = ent
	e.mu.Unlock()

	e.log.Debug().Str("peer", peer).Msg("accepted connection")
	e.notify()
	e.pump(peer, ent)
}

func drain(c transport.Conn) {
	for range c.Events() {
	}
}

func (e *Engine) pump(peer string, ent *entry) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range ent.conn.Events() {
			switch ev.Kind {
			case transport.EventOpen:
				e.handle(peer, ent, EvOpen, nil, nil)
			case transport.EventData:
				e.handle(peer, ent, EvData, ev.Data, nil)
			case transport.EventClose:
				e.handle(peer, ent, EvClose, nil, nil)
			case transport.EventError:
				e.handle(peer, ent, EvError, nil, ev.Err)
			}
		}
	}()
}

// handle runs one transition for ent. Events for an entry that is no longer
// the active one for peer are ignored.
func (e *Engine) handle(peer string, ent *entry, ev EventKind, data []byte, cause error) {
	e.mu.Lock()
	if e.conns[peer] != ent {
		e.mu.Unlock()
		return
	}
	from := ent.state
	to, eff := Step(from, ev)
	ent.state = to

	if eff.Has(EffectReject) {
		e.failLocked(peer, ent, ev, cause)
	}
	var resolved chan error
	if eff.Has(EffectResolve) {
		ent.timer.Stop()
		resolved, ent.result = ent.result, nil
	}
	if eff.Has(EffectDrop) {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		delete(e.conns, peer)
	}
	connected := e.countOpenLocked()
	e.mu.Unlock()

	if to != from {
		e.log.Debug().Str("peer", peer).Stringer("from", from).Stringer("to", to).Stringer("event", ev).Msg("connection state")
		e.cfg.Metrics.SetConnected(connected)
		e.notify()
	}
	if eff.Has(EffectClose) {
		ent.conn.Close()
	}
	if eff.Has(EffectPersist) {
		e.cfg.Directory.AddKnownPeer(peer)
	}
	if resolved != nil {
		resolved <- nil
	}
	if eff.Has(EffectJoinSync) {
		e.joinSync(peer, ent.conn)
	}
	if eff.Has(EffectDeliver) {
		e.deliver(peer, data)
	}
}

func (e *Engine) failLocked(peer string, ent *entry, ev EventKind, cause error) {
	if ent.result == nil {
		return
	}
	var err error
	reason := metrics.ReasonClosed
	switch ev {
	case EvTimeout:
		err = ErrConnectTimeout
		reason = metrics.ReasonTimeout
	case EvError:
		if cause == nil {
			cause = errors.New("transport error")
		}
		err = fmt.Errorf("connecting to %s: %w", peer, cause)
		reason = metrics.ReasonTransport
	case EvRemove:
		err = cause
	default:
		err = ErrConnectionClosed
	}
	e.cfg.Metrics.ConnectFailure(reason)
	ent.finish(err)
}

func (e *Engine) countOpenLocked() int {
	n := 0
	for _, ent := range e.conns {
		if ent.state == Open {
			n++
		}
	}
	return n
}

func (e *Engine) notify() {
	if e.cfg.Events != nil {
		e.cfg.Events.NotifyPeers()
	}
}

func encode(state scoresheet.GameState) ([]byte, error) {
	return json.Marshal(Message{Type: MessageSync, State: state})
}

func (e *Engine) joinSync(peer string, c transport.Conn) {
	var current []byte
	if e.cfg.State != nil {
		msg, err := encode(e.cfg.State())
		if err != nil {
			e.log.Error().Err(err).Msg("cannot encode join sync")
			return
		}
		current = msg
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	// A broadcast that got in first carries a state at least as new.
	if e.latest != nil {
		current = e.latest
	}
	if current == nil {
		return
	}
	if err := c.Send(current); err != nil {
		e.log.Debug().Err(err).Str("peer", peer).Msg("join sync not sent")
		return
	}
	e.cfg.Metrics.Sent()
}

func (e *Engine) deliver(peer string, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		e.log.Debug().Err(err).Str("peer", peer).Msg("ignoring undecodable message")
		return
	}
	if msg.Type != MessageSync {
		e.log.Debug().Str("peer", peer).Str("type", msg.Type).Msg("ignoring unknown message")
		return
	}
	e.cfg.Metrics.Received()
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate(msg.State, peer)
	}
}

// ConnectToPeer opens a channel to remote and waits until it is open, fails,
// or times out. Connecting to ourselves, to an empty id, or to a peer that is
// already open or connecting succeeds without dialing again. Cancelling ctx
// stops the wait, not the attempt.
func (e *Engine) ConnectToPeer(ctx context.Context, remote string) error {
	return e.connect(ctx, remote, true)
}

func (e *Engine) connect(ctx context.Context, remote string, manual bool) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.endpoint == nil {
		e.mu.Unlock()
		return ErrNotReady
	}
	if remote == "" || remote == e.selfID {
		e.mu.Unlock()
		return nil
	}
	if existing, ok := e.conns[remote]; ok && (existing.state == Open || existing.state.Connecting()) {
		e.mu.Unlock()
		return nil
	}

	mode := metrics.ModeAuto
	if manual {
		mode = metrics.ModeManual
	}
	e.cfg.Metrics.ConnectAttempt(mode)

	conn, err := e.endpoint.Dial(remote)
	if err != nil {
		e.mu.Unlock()
		e.cfg.Metrics.ConnectFailure(metrics.ReasonTransport)
		return fmt.Errorf("dialing %s: %w", remote, err)
	}
	ent := &entry{conn: conn, manual: manual, result: make(chan error, 1)}
	ent.state, _ = Step(Absent, EvDial)
	result := ent.result
	e.conns[remote] = ent
	ent.timer = time.AfterFunc(e.cfg.ConnectTimeout, func() {
		e.handle(remote, ent, EvTimeout, nil, nil)
	})
	e.mu.Unlock()

	log := e.log.With().Str("peer", remote).Str("mode", mode).Logger()
	log.Debug().Msg("connecting")
	e.notify()
	e.pump(remote, ent)

	select {
	case err := <-result:
		switch {
		case err == nil:
			log.Info().Msg("connected")
		case manual:
			log.Warn().Err(err).Msg("connect failed")
		default:
			log.Debug().Err(err).Msg("reconnect failed")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reconnectAll(ctx context.Context) {
	for _, id := range e.cfg.Directory.KnownPeers() {
		e.mu.Lock()
		stopped := e.stopped
		e.mu.Unlock()
		if stopped {
			return
		}
		e.wg.Add(1)
		go func(id string) {
			defer e.wg.Done()
			e.connect(ctx, id, false)
		}(id)
	}
}

// retryLoop periodically rebinds a lost transport and redials known peers that
// are neither open nor connecting. It also recovers from both sides of a
// simultaneous dial having dropped each other's connection.
func (e *Engine) retryLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(e.cfg.RetryInterval)):
		}

		e.mu.Lock()
		ready := e.endpoint != nil
		e.mu.Unlock()
		if ready {
			e.reconnectAll(ctx)
			continue
		}
		if e.cfg.Network != nil {
			e.bringUp(ctx, e.cfg.Directory.SelfID())
		}
	}
}

// jitter spreads d by up to a fifth so two peers do not redial in lockstep.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int64N(int64(d/5)+1))
}

// RemovePeer closes any connection to remote, fails a pending connect to it
// and forgets it so it is not redialed.
func (e *Engine) RemovePeer(remote string) {
	e.cfg.Directory.RemoveKnownPeer(remote)

	e.mu.Lock()
	ent := e.conns[remote]
	e.mu.Unlock()
	if ent != nil {
		e.handle(remote, ent, EvRemove, nil, ErrPeerRemoved)
	}
	e.log.Info().Str("peer", remote).Msg("peer removed")
	e.notify()
}

// ResetPeerID severs every sync relationship: all connections are closed, the
// stored self id and known peers are cleared and a fresh id is bound.
func (e *Engine) ResetPeerID(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	entries, ep := e.detachLocked(ErrConnectionClosed)
	e.selfID = ""
	e.lastErr = nil
	e.mu.Unlock()

	for _, ent := range entries {
		ent.conn.Close()
	}
	if ep != nil {
		ep.Close()
	}
	e.cfg.Directory.ClearSelfID()
	e.cfg.Directory.ClearKnownPeers()
	e.cfg.Metrics.SetConnected(0)
	e.log.Info().Msg("peer id reset")
	e.notify()

	if e.cfg.Network == nil {
		return ErrNotReady
	}
	runCtx := ctx
	e.mu.Lock()
	if e.ctx != nil {
		runCtx = e.ctx
	}
	e.mu.Unlock()
	return e.bind(runCtx, "")
}

// Broadcast sends state to every open connection except the one to except,
// which is the peer the state came from. Connections that are not open are
// skipped; nothing is queued.
func (e *Engine) Broadcast(state scoresheet.GameState, except string) {
	msg, err := encode(state)
	if err != nil {
		e.log.Error().Err(err).Msg("cannot encode state")
		return
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	e.latest = msg

	e.mu.Lock()
	targets := make(map[string]transport.Conn)
	for peer, ent := range e.conns {
		if ent.state == Open && peer != except {
			targets[peer] = ent.conn
		}
	}
	e.mu.Unlock()

	for peer, c := range targets {
		if err := c.Send(msg); err != nil {
			e.log.Debug().Err(err).Str("peer", peer).Msg("broadcast skipped")
			continue
		}
		e.cfg.Metrics.Sent()
	}
}

func (e *Engine) Status() Status {
	known := e.cfg.Directory.KnownPeers()

	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		SelfID:    e.selfID,
		Ready:     e.endpoint != nil,
		Connected: []string{},
	}
	if e.lastErr != nil {
		st.Error = e.lastErr.Error()
	}
	dialing := false
	for peer, ent := range e.conns {
		switch {
		case ent.state == Open:
			st.Connected = append(st.Connected, peer)
		case ent.state == Dialing:
			dialing = true
			if ent.manual {
				st.Connecting = true
			}
		}
	}
	sort.Strings(st.Connected)
	st.Reconnecting = (!st.Ready && len(known) > 0) || dialing
	return st
}

// SelfID returns the bound peer id, or "" when not ready.
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}
