package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/Vodeneev/tounesbet/internal/pkg/interfaces"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

var (
	errNoExternalID = errors.New("game external id cannot be empty")
	errNoTeams      = errors.New("home and away team cannot be empty")
	errNoStart      = errors.New("start time cannot be zero")
)

// Validator implements data validation
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() interfaces.Validator {
	return &Validator{}
}

// ValidateGame validates game data
func (v *Validator) ValidateGame(game *models.ParsedGame) error {
	if game == nil {
		return fmt.Errorf("game cannot be nil")
	}
	if game.ExternalID == "" {
		return errNoExternalID
	}
	if game.HomeTeam == "" || game.AwayTeam == "" {
		return fmt.Errorf("game %s: %w", game.ExternalID, errNoTeams)
	}
	if game.StartTime.IsZero() {
		return fmt.Errorf("game %s: %w", game.ExternalID, errNoStart)
	}
	return nil
}

// ValidateSport drops invalid games, unpriced outcomes and markets left empty.
func (v *Validator) ValidateSport(sport *models.ParsedSport) int {
	if sport == nil {
		return 0
	}
	dropped := 0
	for i := range sport.Leagues {
		l := &sport.Leagues[i]
		games := l.Games[:0]
		for _, g := range l.Games {
			if v.ValidateGame(&g) != nil {
				dropped++
				continue
			}
			markets, n := v.ValidateMarkets(g.Markets)
			dropped += n
			g.Markets = markets
			games = append(games, g)
		}
		l.Games = games
	}
	return dropped
}

// ValidateMarkets filters markets in place.
func (v *Validator) ValidateMarkets(markets []models.ParsedMarket) ([]models.ParsedMarket, int) {
	dropped := 0
	kept := markets[:0]
	for _, m := range markets {
		outcomes := m.Outcomes[:0]
		for _, o := range m.Outcomes {
			if o.Label == "" || !validPrice(o.Price) {
				dropped++
				continue
			}
			outcomes = append(outcomes, o)
		}
		m.Outcomes = outcomes
		if m.ExternalID == "" || len(m.Outcomes) == 0 {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	return kept, dropped
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
