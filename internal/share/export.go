package share

import (
	"encoding/json"
	"fmt"
	"kniffel/internal/scoresheet"
)

const (
	ExportFileName    = "export.nutsaboutstats"
	ExportContentType = "application/vnd.com.nutsaboutstats+json"
)

// Document is the stats export handed to other apps.
type Document struct {
	Game           string          `json:"game"`
	Players        []string        `json:"players"`
	Bonus          map[string]bool `json:"Bonus"`
	Points         map[string]int  `json:"Points"`
	StartingPlayer string          `json:"Starting Player"`
	Winner         string          `json:"Winner"`
}

// DisplayName is the player's name, or "Spieler N" (1-based) when unnamed.
func DisplayName(p scoresheet.Player, index int) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("Spieler %d", index+1)
}

func Export(state scoresheet.GameState, settings Settings) Document {
	doc := Document{
		Game:    settings.GameName,
		Players: make([]string, 0, len(state.Players)),
		Bonus:   make(map[string]bool, len(state.Players)),
		Points:  make(map[string]int, len(state.Players)),
	}
	best := 0
	for i, p := range state.Players {
		name := DisplayName(p, i)
		total := scoresheet.GrandTotal(p)
		doc.Players = append(doc.Players, name)
		doc.Bonus[name] = scoresheet.UpperBonus(scoresheet.UpperSum(p)) > 0
		doc.Points[name] = total
		// The first player wins ties.
		if i == 0 || total > best {
			doc.Winner = name
			best = total
		}
	}
	if len(doc.Players) > 0 {
		doc.StartingPlayer = doc.Players[0]
	}
	return doc
}

// Marshal renders the document the way it is written to the export file.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
