package scoresheet

import (
	"encoding/json"
	"fmt"
)

// Version gates compatibility of persisted and received game state.
const Version = 1

// Cell is a single scoresheet entry. A nil Value means "not yet recorded".
// Struck cells score zero but keep their Value so un-striking restores it.
type Cell struct {
	Value  *int `json:"value"`
	Struck bool `json:"struck"`
}

// IntPtr is a small helper for building cells in code and tests.
func IntPtr(v int) *int {
	return &v
}

type Section string

const (
	SectionUpper = Section("upper")
	SectionLower = Section("lower")
)

func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionUpper, SectionLower:
		return Section(s), nil
	}
	return "", fmt.Errorf("unknown section %q", s)
}

type UpperField int

const (
	Ones UpperField = iota
	Twos
	Threes
	Fours
	Fives
	Sixes
	numUpper
)

var upperNames = [numUpper]string{"ones", "twos", "threes", "fours", "fives", "sixes"}

func (f UpperField) String() string {
	if f < 0 || f >= numUpper {
		return fmt.Sprintf("UpperField(%d)", int(f))
	}
	return upperNames[f]
}

func ParseUpperField(name string) (UpperField, error) {
	for i, n := range upperNames {
		if n == name {
			return UpperField(i), nil
		}
	}
	return 0, fmt.Errorf("unknown upper field %q", name)
}

type LowerField int

const (
	ThreeOfKind LowerField = iota
	FourOfKind
	TwoPairs
	ThreePairs
	TwoThrees
	FullHouse
	LargeFullHouse
	SmallStraight
	LargeStraight
	Highway
	Kniffel
	KniffelExtreme
	Under10
	Over33
	Chance
	SuperChance
	numLower
)

var lowerNames = [numLower]string{
	"threeOfKind", "fourOfKind", "twoPairs", "threePairs", "twoThrees", "fullHouse",
	"largeFullHouse", "smallStraight", "largeStraight", "highway", "kniffel",
	"kniffelExtreme", "under10", "over33", "chance", "superChance",
}

func (f LowerField) String() string {
	if f < 0 || f >= numLower {
		return fmt.Sprintf("LowerField(%d)", int(f))
	}
	return lowerNames[f]
}

func ParseLowerField(name string) (LowerField, error) {
	for i, n := range lowerNames {
		if n == name {
			return LowerField(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lower field %q", name)
}

// UpperFields and LowerFields list every field in display order.
func UpperFields() []UpperField {
	out := make([]UpperField, numUpper)
	for i := range out {
		out[i] = UpperField(i)
	}
	return out
}

func LowerFields() []LowerField {
	out := make([]LowerField, numLower)
	for i := range out {
		out[i] = LowerField(i)
	}
	return out
}

type UpperSection [numUpper]Cell

func (s UpperSection) MarshalJSON() ([]byte, error) {
	m := make(map[string]Cell, numUpper)
	for i, c := range s {
		m[upperNames[i]] = c
	}
	return json.Marshal(m)
}

func (s *UpperSection) UnmarshalJSON(data []byte) error {
	var m map[string]Cell
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = UpperSection{}
	for i, n := range upperNames {
		if c, ok := m[n]; ok {
			s[i] = c
		}
	}
	return nil
}

type LowerSection [numLower]Cell

func (s LowerSection) MarshalJSON() ([]byte, error) {
	m := make(map[string]Cell, numLower)
	for i, c := range s {
		m[lowerNames[i]] = c
	}
	return json.Marshal(m)
}

func (s *LowerSection) UnmarshalJSON(data []byte) error {
	var m map[string]Cell
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = LowerSection{}
	for i, n := range lowerNames {
		if c, ok := m[n]; ok {
			s[i] = c
		}
	}
	return nil
}

type Player struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Upper UpperSection `json:"upper"`
	Lower LowerSection `json:"lower"`
}

// GameState is the full sync snapshot. The first player is the starting player.
type GameState struct {
	Version int      `json:"version"`
	Players []Player `json:"players"`
}

// NewPlayer returns a player with empty sections.
func NewPlayer(id, name string) Player {
	return Player{ID: id, Name: name}
}

// Clone returns a deep copy; cell values are pointers and must not be shared
// between the store and its readers.
func (g GameState) Clone() GameState {
	out := GameState{Version: g.Version, Players: make([]Player, len(g.Players))}
	for i, p := range g.Players {
		cp := p
		for j, c := range p.Upper {
			cp.Upper[j] = c.clone()
		}
		for j, c := range p.Lower {
			cp.Lower[j] = c.clone()
		}
		out.Players[i] = cp
	}
	return out
}

func (c Cell) clone() Cell {
	if c.Value == nil {
		return c
	}
	v := *c.Value
	return Cell{Value: &v, Struck: c.Struck}
}

// CellPatch is a partial cell update. Fields left unset are preserved.
type CellPatch struct {
	SetValue bool
	Value    *int
	Struck   *bool
}

// Apply merges the patch over c.
func (p CellPatch) Apply(c Cell) Cell {
	out := c.clone()
	if p.SetValue {
		if p.Value == nil {
			out.Value = nil
		} else {
			v := *p.Value
			out.Value = &v
		}
	}
	if p.Struck != nil {
		out.Struck = *p.Struck
	}
	return out
}

// UnmarshalJSON distinguishes an absent "value" key from an explicit null.
func (p *CellPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = CellPatch{}
	if v, ok := raw["value"]; ok {
		p.SetValue = true
		if err := json.Unmarshal(v, &p.Value); err != nil {
			return fmt.Errorf("decoding value: %w", err)
		}
	}
	if s, ok := raw["struck"]; ok {
		var b bool
		if err := json.Unmarshal(s, &b); err != nil {
			return fmt.Errorf("decoding struck: %w", err)
		}
		p.Struck = &b
	}
	return nil
}
