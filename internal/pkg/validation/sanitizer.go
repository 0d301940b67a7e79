package validation

import (
	"regexp"
	"strings"

	"github.com/Vodeneev/tounesbet/internal/pkg/interfaces"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	spaces       = regexp.MustCompile(`\s+`)
)

// Sanitizer implements data sanitization
type Sanitizer struct{}

// NewSanitizer creates a new sanitizer
func NewSanitizer() interfaces.DataSanitizer {
	return &Sanitizer{}
}

// SanitizeSport sanitizes the whole parsed tree
func (s *Sanitizer) SanitizeSport(sport *models.ParsedSport) {
	if sport == nil {
		return
	}
	sport.Name = s.sanitizeString(sport.Name, 255)
	sport.Key = strings.ToLower(strings.TrimSpace(sport.Key))
	sport.ExternalID = strings.TrimSpace(sport.ExternalID)
	for i := range sport.Leagues {
		l := &sport.Leagues[i]
		l.Name = s.sanitizeString(l.Name, 500)
		l.ExternalID = strings.TrimSpace(l.ExternalID)
		for j := range l.Games {
			s.SanitizeGame(&l.Games[j])
		}
	}
}

// SanitizeGame sanitizes game data
func (s *Sanitizer) SanitizeGame(game *models.ParsedGame) {
	if game == nil {
		return
	}
	game.ExternalID = strings.TrimSpace(game.ExternalID)
	game.HomeTeam = s.sanitizeString(game.HomeTeam, 255)
	game.AwayTeam = s.sanitizeString(game.AwayTeam, 255)
	game.StartTime = game.StartTime.UTC()
	for i := range game.Markets {
		s.SanitizeMarket(&game.Markets[i])
	}
}

// SanitizeMarket sanitizes market and outcome labels
func (s *Sanitizer) SanitizeMarket(market *models.ParsedMarket) {
	if market == nil {
		return
	}
	market.Name = s.sanitizeString(market.Name, 500)
	market.Key = strings.ToLower(strings.TrimSpace(market.Key))
	for i := range market.Outcomes {
		market.Outcomes[i].Label = s.sanitizeString(market.Outcomes[i].Label, 255)
	}
}

func (s *Sanitizer) sanitizeString(str string, limit int) string {
	sanitized := controlChars.ReplaceAllString(str, " ")
	sanitized = strings.TrimSpace(spaces.ReplaceAllString(sanitized, " "))

	// Limit length
	if r := []rune(sanitized); len(r) > limit {
		sanitized = string(r[:limit])
	}
	return sanitized
}
