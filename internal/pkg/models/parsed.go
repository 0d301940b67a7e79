package models

import (
	"errors"
	"strings"
	"time"
)

// Source identifies rows written by this scraper.
const Source = "tounesbet"

// ParsedSport is the root of one scrape pass result.
type ParsedSport struct {
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	ExternalID string         `json:"external_id"`
	Leagues    []ParsedLeague `json:"leagues"`
}

// ParsedLeague groups games found under one tournament header.
type ParsedLeague struct {
	Name       string       `json:"name"`
	ExternalID string       `json:"external_id"`
	Games      []ParsedGame `json:"games"`
}

// ParsedGame is a match as seen on a single page.
type ParsedGame struct {
	ExternalID string         `json:"external_id"`
	HomeTeam   string         `json:"home_team"`
	AwayTeam   string         `json:"away_team"`
	StartTime  time.Time      `json:"start_time"` // always UTC
	Live       bool           `json:"live"`
	Markets    []ParsedMarket `json:"markets"`
}

// ParsedMarket is one betting market of a game.
type ParsedMarket struct {
	Key        string          `json:"key"` // "1x2", "totals", "btts", "double_chance", ...
	Name       string          `json:"name"`
	ExternalID string          `json:"external_id"`
	Outcomes   []ParsedOutcome `json:"outcomes"`
}

// ParsedOutcome is a priced selection of a market.
type ParsedOutcome struct {
	Label      string   `json:"label"`
	Price      float64  `json:"price"`
	Handicap   *float64 `json:"handicap"`
	ExternalID string   `json:"external_id"`
}

var (
	errEmptyExternalID = errors.New("empty external id")
	errEmptyLabel      = errors.New("empty outcome label")
	errBadPrice        = errors.New("outcome price must be positive")
)

// NewParsedGame builds a game, rejecting rows without an upstream id.
func NewParsedGame(externalID, home, away string, start time.Time, live bool) (ParsedGame, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ParsedGame{}, errEmptyExternalID
	}
	return ParsedGame{
		ExternalID: externalID,
		HomeTeam:   strings.TrimSpace(home),
		AwayTeam:   strings.TrimSpace(away),
		StartTime:  start.UTC(),
		Live:       live,
	}, nil
}

// NewParsedOutcome builds an outcome. Inactive or unpriced selections are rejected
// so callers drop them instead of storing zeros.
func NewParsedOutcome(label string, price float64, handicap *float64, externalID string) (ParsedOutcome, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return ParsedOutcome{}, errEmptyLabel
	}
	if !(price > 0) {
		return ParsedOutcome{}, errBadPrice
	}
	return ParsedOutcome{Label: label, Price: price, Handicap: handicap, ExternalID: externalID}, nil
}

// Handicap returns a pointer to v.
func Handicap(v float64) *float64 {
	return &v
}

// SameHandicap reports whether two nullable lines are equal.
func SameHandicap(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Games flattens all games of the parsed tree.
func Games(sports []ParsedSport) []ParsedGame {
	var out []ParsedGame
	for _, s := range sports {
		for _, l := range s.Leagues {
			out = append(out, l.Games...)
		}
	}
	return out
}
