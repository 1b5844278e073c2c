package gamedata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"kniffel/internal/kv"
	"kniffel/internal/scoresheet"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const StorageKey = "game-state"

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrLastPlayer     = errors.New("cannot remove the last player")
	ErrUnknownField   = errors.New("unknown scoresheet field")
	ErrIncompatible   = errors.New("incompatible game state")
)

// PublishFunc is invoked after every effective mutation, once the new state is
// persisted. origin is empty for local edits and the sending peer's id for
// snapshots applied from the network.
type PublishFunc func(state scoresheet.GameState, origin string)

type Store struct {
	mu    sync.Mutex
	pubMu sync.Mutex
	state scoresheet.GameState
	// last is the canonical JSON of state; byte-equal commits are dropped.
	last    []byte
	kv      kv.Store
	log     zerolog.Logger
	publish PublishFunc
}

func NewStore(store kv.Store, log zerolog.Logger, publish PublishFunc) *Store {
	s := &Store{
		kv:      store,
		log:     log.With().Str("component", "gamedata").Logger(),
		publish: publish,
	}
	s.state = s.load()
	s.last, _ = json.Marshal(s.state)
	return s
}

func newPlayerID() string {
	return uuid.New().String()
}

func freshState() scoresheet.GameState {
	return scoresheet.GameState{
		Version: scoresheet.Version,
		Players: []scoresheet.Player{scoresheet.NewPlayer(newPlayerID(), "")},
	}
}

func (s *Store) load() scoresheet.GameState {
	data, err := s.kv.Get(StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return freshState()
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot read saved game, starting fresh")
		return freshState()
	}
	var state scoresheet.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn().Err(err).Msg("saved game is corrupt, starting fresh")
		return freshState()
	}
	if err := validate(state); err != nil {
		s.log.Info().Err(err).Msg("discarding saved game")
		return freshState()
	}
	return state
}

func validate(state scoresheet.GameState) error {
	if state.Version != scoresheet.Version {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatible, state.Version, scoresheet.Version)
	}
	if len(state.Players) == 0 {
		return fmt.Errorf("%w: no players", ErrIncompatible)
	}
	return nil
}

// State returns a copy of the current game state.
func (s *Store) State() scoresheet.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// mutate applies fn to a copy of the state and commits the result. It is the
// single path through which every change is persisted and published.
func (s *Store) mutate(origin string, fn func(*scoresheet.GameState) error) error {
	s.mu.Lock()
	next := s.state.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commitLocked(next, origin, true)
	return nil
}

// commitLocked must be called with s.mu held and releases it.
func (s *Store) commitLocked(next scoresheet.GameState, origin string, persist bool) {
	data, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("cannot encode game state")
		return
	}
	if bytes.Equal(data, s.last) {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.last = data
	if persist {
		if err := s.kv.Set(StorageKey, data); err != nil {
			s.log.Warn().Err(err).Msg("cannot persist game state")
		}
	}

	// Taking pubMu before releasing mu keeps publishes in commit order.
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	if s.publish != nil {
		s.publish(next.Clone(), origin)
	}
}

func findPlayer(state *scoresheet.GameState, id string) *scoresheet.Player {
	for i := range state.Players {
		if state.Players[i].ID == id {
			return &state.Players[i]
		}
	}
	return nil
}

// UpdateCell merges patch into the named cell, preserving unpatched fields.
func (s *Store) UpdateCell(playerID string, section scoresheet.Section, field string, patch scoresheet.CellPatch) error {
	var apply func(p *scoresheet.Player)
	switch section {
	case scoresheet.SectionUpper:
		f, err := scoresheet.ParseUpperField(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownField, err)
		}
		apply = func(p *scoresheet.Player) { p.Upper[f] = patch.Apply(p.Upper[f]) }
	case scoresheet.SectionLower:
		f, err := scoresheet.ParseLowerField(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownField, err)
		}
		apply = func(p *scoresheet.Player) { p.Lower[f] = patch.Apply(p.Lower[f]) }
	default:
		return fmt.Errorf("%w: section %q", ErrUnknownField, section)
	}

	return s.mutate("", func(state *scoresheet.GameState) error {
		p := findPlayer(state, playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		apply(p)
		return nil
	})
}

func (s *Store) UpdatePlayerName(playerID, name string) error {
	return s.mutate("", func(state *scoresheet.GameState) error {
		p := findPlayer(state, playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		p.Name = name
		return nil
	})
}

// AddPlayer appends a blank player and returns its id.
func (s *Store) AddPlayer() string {
	id := newPlayerID()
	s.mutate("", func(state *scoresheet.GameState) error {
		state.Players = append(state.Players, scoresheet.NewPlayer(id, ""))
		return nil
	})
	return id
}

// RemovePlayer refuses to remove the only remaining player.
func (s *Store) RemovePlayer(playerID string) error {
	return s.mutate("", func(state *scoresheet.GameState) error {
		idx := -1
		for i, p := range state.Players {
			if p.ID == playerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrPlayerNotFound
		}
		if len(state.Players) == 1 {
			return ErrLastPlayer
		}
		state.Players = append(state.Players[:idx], state.Players[idx+1:]...)
		return nil
	})
}

// Reset starts over with one blank player and clears the saved copy.
func (s *Store) Reset() {
	s.mu.Lock()
	if err := s.kv.Delete(StorageKey); err != nil {
		s.log.Warn().Err(err).Msg("cannot clear saved game")
	}
	s.commitLocked(freshState(), "", false)
}

// Revanche re-seeds a rematch: names are kept, order is reversed so the last
// player starts, ids are new and every cell is empty.
func (s *Store) Revanche() {
	s.mutate("", func(state *scoresheet.GameState) error {
		n := len(state.Players)
		players := make([]scoresheet.Player, n)
		for i, p := range state.Players {
			players[n-1-i] = scoresheet.NewPlayer(newPlayerID(), p.Name)
		}
		state.Players = players
		return nil
	})
}

// ApplyRemote replaces the whole state with a snapshot received from peer
// origin. Snapshots of another version, or without players, are dropped and
// the local state is kept.
func (s *Store) ApplyRemote(state scoresheet.GameState, origin string) error {
	if err := validate(state); err != nil {
		s.log.Warn().Err(err).Str("peer", origin).Msg("dropping snapshot")
		return err
	}
	s.mu.Lock()
	s.commitLocked(state.Clone(), origin, true)
	return nil
}
