package scoresheet

const (
	UpperBonusThreshold = 73
	UpperBonusPoints    = 45
)

type ScoringKind int

const (
	// FreeForm fields count the raw points entered.
	FreeForm ScoringKind = iota
	// FixedScore fields are an achieved flag worth a constant.
	FixedScore
	// Doubled fields count the raw points twice.
	Doubled
)

type Scoring struct {
	Kind   ScoringKind
	Points int
}

// Scoring classifies a lower field. under10 is free-form.
func (f LowerField) Scoring() Scoring {
	switch f {
	case ThreePairs:
		return Scoring{Kind: FixedScore, Points: 35}
	case TwoThrees:
		return Scoring{Kind: FixedScore, Points: 45}
	case FullHouse:
		return Scoring{Kind: FixedScore, Points: 25}
	case LargeFullHouse:
		return Scoring{Kind: FixedScore, Points: 45}
	case SmallStraight:
		return Scoring{Kind: FixedScore, Points: 30}
	case LargeStraight:
		return Scoring{Kind: FixedScore, Points: 40}
	case Highway:
		return Scoring{Kind: FixedScore, Points: 50}
	case Kniffel:
		return Scoring{Kind: FixedScore, Points: 50}
	case KniffelExtreme:
		return Scoring{Kind: FixedScore, Points: 75}
	case Over33:
		return Scoring{Kind: FixedScore, Points: 40}
	case SuperChance:
		return Scoring{Kind: Doubled}
	default:
		return Scoring{Kind: FreeForm}
	}
}

func (c Cell) raw() int {
	if c.Struck || c.Value == nil {
		return 0
	}
	return *c.Value
}

func UpperSum(p Player) int {
	sum := 0
	for _, c := range p.Upper {
		sum += c.raw()
	}
	return sum
}

func UpperBonus(sum int) int {
	if sum >= UpperBonusThreshold {
		return UpperBonusPoints
	}
	return 0
}

func UpperTotal(p Player) int {
	sum := UpperSum(p)
	return sum + UpperBonus(sum)
}

// LowerScore is the contribution of a single lower cell.
func LowerScore(f LowerField, c Cell) int {
	if c.Struck {
		return 0
	}
	s := f.Scoring()
	switch s.Kind {
	case FixedScore:
		if c.Value != nil && *c.Value != 0 {
			return s.Points
		}
		return 0
	case Doubled:
		return 2 * c.raw()
	default:
		return c.raw()
	}
}

func LowerSum(p Player) int {
	sum := 0
	for i, c := range p.Lower {
		sum += LowerScore(LowerField(i), c)
	}
	return sum
}

func GrandTotal(p Player) int {
	return UpperTotal(p) + LowerSum(p)
}

// Totals bundles every derived number shown under a player's column.
type Totals struct {
	UpperSum   int `json:"upperSum"`
	UpperBonus int `json:"upperBonus"`
	UpperTotal int `json:"upperTotal"`
	LowerSum   int `json:"lowerSum"`
	GrandTotal int `json:"grandTotal"`
}

func TotalsFor(p Player) Totals {
	sum := UpperSum(p)
	bonus := UpperBonus(sum)
	lower := LowerSum(p)
	return Totals{
		UpperSum:   sum,
		UpperBonus: bonus,
		UpperTotal: sum + bonus,
		LowerSum:   lower,
		GrandTotal: sum + bonus + lower,
	}
}
