package persist

import (
	"slices"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// cloneSport deep-copies the slices of a parsed tree so sanitizing and
// filtering never touch the caller's data.
func cloneSport(s models.ParsedSport) models.ParsedSport {
	s.Leagues = slices.Clone(s.Leagues)
	for i := range s.Leagues {
		l := &s.Leagues[i]
		l.Games = slices.Clone(l.Games)
		for j := range l.Games {
			l.Games[j].Markets = cloneMarkets(l.Games[j].Markets)
		}
	}
	return s
}

func cloneMarkets(markets []models.ParsedMarket) []models.ParsedMarket {
	out := slices.Clone(markets)
	for i := range out {
		out[i].Outcomes = slices.Clone(out[i].Outcomes)
	}
	return out
}
