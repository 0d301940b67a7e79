package interfaces

import "github.com/Vodeneev/tounesbet/internal/pkg/models"

// Validator filters a parsed tree down to rows that can be persisted.
type Validator interface {
	// ValidateSport drops invalid games, markets and outcomes in place and
	// returns how many rows were dropped.
	ValidateSport(sport *models.ParsedSport) int

	// ValidateGame reports why a game cannot be persisted, or nil.
	ValidateGame(game *models.ParsedGame) error

	// ValidateMarkets returns the markets that still carry priced outcomes
	// and the number of rows dropped.
	ValidateMarkets(markets []models.ParsedMarket) ([]models.ParsedMarket, int)
}

// DataSanitizer normalizes names of a parsed tree in place.
type DataSanitizer interface {
	SanitizeSport(sport *models.ParsedSport)
	SanitizeGame(game *models.ParsedGame)
	SanitizeMarket(market *models.ParsedMarket)
}
