package shell

import (
	"kniffel/internal/scoresheet"
	"kniffel/internal/share"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

func blank(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" ", n)
}

func cellText(c scoresheet.Cell) string {
	switch {
	case c.Struck:
		return "x"
	case c.Value == nil:
		return ""
	default:
		return strconv.Itoa(*c.Value)
	}
}

// Scoreboard renders the game as a text table with one column per player.
// Widths are measured in terminal cells so names with wide runes line up.
func Scoreboard(state scoresheet.GameState) string {
	header := []string{""}
	for i, p := range state.Players {
		header = append(header, share.DisplayName(p, i))
	}
	rows := [][]string{header, nil}

	addRow := func(label string, value func(p scoresheet.Player) string) {
		row := []string{label}
		for _, p := range state.Players {
			row = append(row, value(p))
		}
		rows = append(rows, row)
	}
	for _, f := range scoresheet.UpperFields() {
		addRow(f.String(), func(p scoresheet.Player) string { return cellText(p.Upper[f]) })
	}
	rows = append(rows, nil)
	addRow("upper sum", func(p scoresheet.Player) string { return strconv.Itoa(scoresheet.UpperSum(p)) })
	addRow("bonus", func(p scoresheet.Player) string { return strconv.Itoa(scoresheet.UpperBonus(scoresheet.UpperSum(p))) })
	addRow("upper total", func(p scoresheet.Player) string { return strconv.Itoa(scoresheet.UpperTotal(p)) })
	rows = append(rows, nil)
	for _, f := range scoresheet.LowerFields() {
		addRow(f.String(), func(p scoresheet.Player) string { return cellText(p.Lower[f]) })
	}
	rows = append(rows, nil)
	addRow("lower sum", func(p scoresheet.Player) string { return strconv.Itoa(scoresheet.LowerSum(p)) })
	addRow("total", func(p scoresheet.Player) string { return strconv.Itoa(scoresheet.GrandTotal(p)) })

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, s := range row {
			if w := runewidth.StringWidth(s); w > widths[i] {
				widths[i] = w
			}
		}
	}

	divider := "+"
	for _, w := range widths {
		divider += strings.Repeat("-", w+2) + "+"
	}
	divider += "\n"

	var b strings.Builder
	b.WriteString(divider)
	for _, row := range rows {
		if row == nil {
			b.WriteString(divider)
			continue
		}
		b.WriteString("|")
		for i, s := range row {
			pad := blank(widths[i] - runewidth.StringWidth(s))
			if i == 0 {
				b.WriteString(" " + s + pad + " |")
			} else {
				b.WriteString(" " + pad + s + " |")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(divider)
	return b.String()
}
