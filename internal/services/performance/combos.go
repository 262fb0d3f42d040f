package performance

import (
	"sort"

	"Calibra/internal/domain/models"
)

// BuildCombos groups outcomes by (symbol, pattern, session, timeframe).
func BuildCombos(outcomes []models.Outcome) []models.ComboRecord {
	idx := make(map[models.ComboKey]models.ComboRecord)
	for _, o := range outcomes {
		if o.Pattern == "" || o.Symbol == "" {
			continue
		}
		key := models.ComboKey{Symbol: o.Symbol, Pattern: o.Pattern, Session: o.Session, Timeframe: o.Timeframe}
		c := idx[key]
		c.Key = key
		c.Trades++
		switch o.Result {
		case models.ResultWin:
			c.Wins++
		case models.ResultLoss:
			c.Losses++
		}
		idx[key] = c
	}
	return sortedCombos(idx)
}

func sortedCombos(idx map[models.ComboKey]models.ComboRecord) []models.ComboRecord {
	out := make([]models.ComboRecord, 0, len(idx))
	for _, c := range idx {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Pattern != b.Pattern {
			return a.Pattern < b.Pattern
		}
		if a.Session != b.Session {
			return a.Session < b.Session
		}
		return a.Timeframe < b.Timeframe
	})
	return out
}
