package models

import "time"

// Sport is a persisted sport row.
type Sport struct {
	ID         int64  `json:"id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
}

// League is a persisted league row.
type League struct {
	ID         int64  `json:"id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	SportID    int64  `json:"sport_id"`
	Name       string `json:"name"`
}

// Game is a persisted match row.
type Game struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	LeagueID   int64     `json:"league_id"`
	HomeTeam   string    `json:"home_team"`
	AwayTeam   string    `json:"away_team"`
	StartTime  time.Time `json:"start_time"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Live       bool      `json:"live"`
}

// Market is a persisted market row.
type Market struct {
	ID         int64  `json:"id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	GameID     int64  `json:"game_id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
}

// Outcome is a persisted outcome row, unique per (market_id, label, handicap).
type Outcome struct {
	ID         int64    `json:"id"`
	Source     string   `json:"source"`
	ExternalID string   `json:"external_id"`
	MarketID   int64    `json:"market_id"`
	Label      string   `json:"label"`
	Price      float64  `json:"price"`
	Handicap   *float64 `json:"handicap"`
}

// LiveMeta is scoreboard data from a secondary provider, joined to games by
// provider_ls_id = games.external_id.
type LiveMeta struct {
	ProviderKey     string     `json:"provider_key"`
	Provider        string     `json:"provider"`
	ProviderLsID    string     `json:"provider_ls_id"`
	ProviderEventID string     `json:"provider_event_id"`
	StatusName      string     `json:"status_name"`
	ClockTime       *int       `json:"clock_time"`
	StartTime       *time.Time `json:"start_time"`
	HomeTeam        string     `json:"home_team"`
	AwayTeam        string     `json:"away_team"`
	HomeScore       *int       `json:"home_score"`
	AwayScore       *int       `json:"away_score"`
	CompetitionName string     `json:"competition_name"`
}

// MarketWithOutcomes is a market joined with its outcomes.
type MarketWithOutcomes struct {
	Market
	Outcomes []Outcome `json:"outcomes"`
}
