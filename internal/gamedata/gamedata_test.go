package gamedata

import (
	"encoding/json"
	"errors"
	"kniffel/internal/kv"
	"kniffel/internal/scoresheet"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type published struct {
	state  scoresheet.GameState
	origin string
}

type recorder struct {
	mu    sync.Mutex
	calls []published
}

func (r *recorder) publish(state scoresheet.GameState, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, published{state, origin})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestStore(t *testing.T) (*Store, *kv.Memory, *recorder) {
	t.Helper()
	mem := kv.NewMemory()
	rec := &recorder{}
	return NewStore(mem, zerolog.Nop(), rec.publish), mem, rec
}

func saved(t *testing.T, mem *kv.Memory) scoresheet.GameState {
	t.Helper()
	data, err := mem.Get(StorageKey)
	if err != nil {
		t.Fatalf("Get(%s): %v", StorageKey, err)
	}
	var state scoresheet.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decoding saved state: %v", err)
	}
	return state
}

func TestNewStore_StartsWithOneBlankPlayer(t *testing.T) {
	s, _, rec := newTestStore(t)

	state := s.State()
	if state.Version != scoresheet.Version {
		t.Errorf("Version = %d, want %d", state.Version, scoresheet.Version)
	}
	if len(state.Players) != 1 {
		t.Fatalf("len(Players) = %d, want 1", len(state.Players))
	}
	if state.Players[0].ID == "" || state.Players[0].Name != "" {
		t.Errorf("player = %+v, want fresh id and empty name", state.Players[0])
	}
	if rec.count() != 0 {
		t.Errorf("publish called %d times on load, want 0", rec.count())
	}
}

func TestNewStore_LoadsSavedGame(t *testing.T) {
	mem := kv.NewMemory()
	want := scoresheet.GameState{
		Version: scoresheet.Version,
		Players: []scoresheet.Player{scoresheet.NewPlayer("a", "Anna"), scoresheet.NewPlayer("b", "Ben")},
	}
	want.Players[1].Lower[scoresheet.Chance] = scoresheet.Cell{Value: scoresheet.IntPtr(23)}
	data, _ := json.Marshal(want)
	mem.Set(StorageKey, data)

	s := NewStore(mem, zerolog.Nop(), nil)
	got := s.State()
	if len(got.Players) != 2 || got.Players[0].Name != "Anna" {
		t.Fatalf("loaded players = %+v", got.Players)
	}
	if v := got.Players[1].Lower[scoresheet.Chance].Value; v == nil || *v != 23 {
		t.Errorf("chance = %v, want 23", v)
	}
}

func TestNewStore_DiscardsIncompatibleSave(t *testing.T) {
	cases := map[string]string{
		"version mismatch": `{"version":2,"players":[{"id":"x","name":"Old","upper":{},"lower":{}}]}`,
		"no players":       `{"version":1,"players":[]}`,
		"corrupt":          `{"version":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mem := kv.NewMemory()
			mem.Set(StorageKey, []byte(raw))

			state := NewStore(mem, zerolog.Nop(), nil).State()
			if state.Version != scoresheet.Version || len(state.Players) != 1 || state.Players[0].Name != "" {
				t.Errorf("state = %+v, want fresh game", state)
			}
		})
	}
}

func TestUpdateCell_PartialPatch(t *testing.T) {
	s, mem, rec := newTestStore(t)
	id := s.State().Players[0].ID

	err := s.UpdateCell(id, scoresheet.SectionUpper, "fours", scoresheet.CellPatch{SetValue: true, Value: scoresheet.IntPtr(12)})
	if err != nil {
		t.Fatalf("UpdateCell value: %v", err)
	}
	struck := true
	if err := s.UpdateCell(id, scoresheet.SectionUpper, "fours", scoresheet.CellPatch{Struck: &struck}); err != nil {
		t.Fatalf("UpdateCell struck: %v", err)
	}

	c := s.State().Players[0].Upper[scoresheet.Fours]
	if c.Value == nil || *c.Value != 12 || !c.Struck {
		t.Errorf("fours = %+v, want value 12 struck", c)
	}
	if got := saved(t, mem).Players[0].Upper[scoresheet.Fours]; !got.Struck {
		t.Errorf("persisted fours = %+v, want struck", got)
	}
	if rec.count() != 2 {
		t.Errorf("publish count = %d, want 2", rec.count())
	}
	if rec.calls[0].origin != "" {
		t.Errorf("local origin = %q, want empty", rec.calls[0].origin)
	}
}

func TestUpdateCell_Errors(t *testing.T) {
	s, _, rec := newTestStore(t)
	id := s.State().Players[0].ID
	patch := scoresheet.CellPatch{SetValue: true, Value: scoresheet.IntPtr(1)}

	if err := s.UpdateCell("nobody", scoresheet.SectionLower, "chance", patch); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("unknown player err = %v, want ErrPlayerNotFound", err)
	}
	if err := s.UpdateCell(id, scoresheet.SectionLower, "yahtzee", patch); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field err = %v, want ErrUnknownField", err)
	}
	if err := s.UpdateCell(id, scoresheet.SectionUpper, "chance", patch); !errors.Is(err, ErrUnknownField) {
		t.Errorf("wrong section err = %v, want ErrUnknownField", err)
	}
	if rec.count() != 0 {
		t.Errorf("publish count = %d, want 0", rec.count())
	}
}

func TestUpdatePlayerName(t *testing.T) {
	s, _, _ := newTestStore(t)
	id := s.State().Players[0].ID

	if err := s.UpdatePlayerName(id, "Clara"); err != nil {
		t.Fatalf("UpdatePlayerName: %v", err)
	}
	if got := s.State().Players[0].Name; got != "Clara" {
		t.Errorf("Name = %q, want Clara", got)
	}
	if err := s.UpdatePlayerName("nobody", "x"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("err = %v, want ErrPlayerNotFound", err)
	}
}

func TestAddAndRemovePlayer(t *testing.T) {
	s, _, _ := newTestStore(t)
	first := s.State().Players[0].ID

	second := s.AddPlayer()
	state := s.State()
	if len(state.Players) != 2 || state.Players[1].ID != second {
		t.Fatalf("players after add = %+v", state.Players)
	}

	if err := s.RemovePlayer(first); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if err := s.RemovePlayer(second); !errors.Is(err, ErrLastPlayer) {
		t.Errorf("removing last player err = %v, want ErrLastPlayer", err)
	}
	if err := s.RemovePlayer(first); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("removing twice err = %v, want ErrPlayerNotFound", err)
	}
	if got := len(s.State().Players); got != 1 {
		t.Errorf("len(Players) = %d, want 1", got)
	}
}

func TestReset_ClearsSavedGame(t *testing.T) {
	s, mem, rec := newTestStore(t)
	s.AddPlayer()

	s.Reset()

	if _, err := mem.Get(StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Get after reset err = %v, want ErrNotFound", err)
	}
	state := s.State()
	if len(state.Players) != 1 {
		t.Errorf("len(Players) = %d, want 1", len(state.Players))
	}
	if rec.count() != 2 {
		t.Errorf("publish count = %d, want 2", rec.count())
	}
}

func TestRevanche(t *testing.T) {
	s, _, _ := newTestStore(t)
	a := s.State().Players[0].ID
	s.UpdatePlayerName(a, "Anna")
	b := s.AddPlayer()
	s.UpdatePlayerName(b, "Ben")
	c := s.AddPlayer()
	s.UpdatePlayerName(c, "Cleo")
	s.UpdateCell(b, scoresheet.SectionLower, "kniffel", scoresheet.CellPatch{SetValue: true, Value: scoresheet.IntPtr(1)})

	s.Revanche()

	state := s.State()
	names := []string{}
	for _, p := range state.Players {
		names = append(names, p.Name)
		if p.ID == a || p.ID == b || p.ID == c {
			t.Errorf("player %s kept old id %s", p.Name, p.ID)
		}
		if scoresheet.GrandTotal(p) != 0 {
			t.Errorf("player %s total = %d, want 0", p.Name, scoresheet.GrandTotal(p))
		}
		for _, cell := range p.Lower {
			if cell.Value != nil || cell.Struck {
				t.Errorf("player %s has non-empty cell %+v", p.Name, cell)
			}
		}
	}
	want := []string{"Cleo", "Ben", "Anna"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestApplyRemote_AppliesRemoteSnapshot(t *testing.T) {
	s, mem, rec := newTestStore(t)
	remote := scoresheet.GameState{
		Version: scoresheet.Version,
		Players: []scoresheet.Player{scoresheet.NewPlayer("r1", "Remote")},
	}

	if err := s.ApplyRemote(remote, "peer-1"); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if got := s.State().Players[0].Name; got != "Remote" {
		t.Errorf("Name = %q, want Remote", got)
	}
	if got := saved(t, mem).Players[0].ID; got != "r1" {
		t.Errorf("persisted id = %q, want r1", got)
	}
	if rec.count() != 1 || rec.calls[0].origin != "peer-1" {
		t.Errorf("publish calls = %+v, want one from peer-1", rec.calls)
	}
}

func TestApplyRemote_EqualSnapshotIsNoop(t *testing.T) {
	s, _, rec := newTestStore(t)

	if err := s.ApplyRemote(s.State(), "peer-1"); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("publish count = %d, want 0 for unchanged state", rec.count())
	}
}

func TestApplyRemote_RejectsIncompatible(t *testing.T) {
	s, _, rec := newTestStore(t)
	before := s.State()

	bad := []scoresheet.GameState{
		{Version: 2, Players: []scoresheet.Player{scoresheet.NewPlayer("x", "")}},
		{Version: scoresheet.Version},
	}
	for _, state := range bad {
		if err := s.ApplyRemote(state, "peer-1"); !errors.Is(err, ErrIncompatible) {
			t.Errorf("ApplyRemote(%+v) err = %v, want ErrIncompatible", state, err)
		}
	}
	if after := s.State(); after.Players[0].ID != before.Players[0].ID {
		t.Error("local state changed after rejected snapshot")
	}
	if rec.count() != 0 {
		t.Errorf("publish count = %d, want 0", rec.count())
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	s, _, _ := newTestStore(t)
	id := s.State().Players[0].ID
	s.UpdateCell(id, scoresheet.SectionLower, "chance", scoresheet.CellPatch{SetValue: true, Value: scoresheet.IntPtr(20)})

	state := s.State()
	*state.Players[0].Lower[scoresheet.Chance].Value = 99
	state.Players[0].Name = "Mallory"

	again := s.State().Players[0]
	if *again.Lower[scoresheet.Chance].Value != 20 || again.Name != "" {
		t.Errorf("store was mutated through State(): %+v", again)
	}
}

func TestPersistFailureIsIgnored(t *testing.T) {
	rec := &recorder{}
	s := NewStore(failingKV{}, zerolog.Nop(), rec.publish)

	s.AddPlayer()
	if got := len(s.State().Players); got != 2 {
		t.Errorf("len(Players) = %d, want 2", got)
	}
	if rec.count() != 1 {
		t.Errorf("publish count = %d, want 1", rec.count())
	}
}

type failingKV struct{}

func (failingKV) Get(string) ([]byte, error) { return nil, errors.New("disk on fire") }
func (failingKV) Set(string, []byte) error   { return errors.New("disk on fire") }
func (failingKV) Delete(string) error        { return errors.New("disk on fire") }
