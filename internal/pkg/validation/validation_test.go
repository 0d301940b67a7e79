package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

func TestSanitizeSport(t *testing.T) {
	sport := &models.ParsedSport{
		Key:  " Football ",
		Name: "Football",
		Leagues: []models.ParsedLeague{{
			Name: "  Ligue\n 1 ",
			Games: []models.ParsedGame{{
				ExternalID: " 12345 ",
				HomeTeam:   "Paris  Saint-Germain\t",
				AwayTeam:   "OM",
				Markets:    []models.ParsedMarket{{Key: "1X2", Name: " 1X2 "}},
			}},
		}},
	}
	NewSanitizer().SanitizeSport(sport)

	require.Equal(t, "football", sport.Key)
	require.Equal(t, "Ligue 1", sport.Leagues[0].Name)
	g := sport.Leagues[0].Games[0]
	require.Equal(t, "12345", g.ExternalID)
	require.Equal(t, "Paris Saint-Germain", g.HomeTeam)
	require.Equal(t, "1x2", g.Markets[0].Key)
	require.Equal(t, "1X2", g.Markets[0].Name)
}

func TestValidateSport(t *testing.T) {
	start := time.Date(2025, 8, 15, 19, 0, 0, 0, time.UTC)
	sport := &models.ParsedSport{
		Leagues: []models.ParsedLeague{{
			Games: []models.ParsedGame{
				{ExternalID: "1", HomeTeam: "A", AwayTeam: "B", StartTime: start, Markets: []models.ParsedMarket{
					{ExternalID: "1_1x2", Key: "1x2", Outcomes: []models.ParsedOutcome{
						{Label: "1", Price: 1.5}, {Label: "X", Price: 0}, {Label: "2", Price: 2.5},
					}},
					{ExternalID: "1_btts", Key: "btts", Outcomes: []models.ParsedOutcome{{Label: "Yes", Price: -1}}},
				}},
				{ExternalID: "", HomeTeam: "A", AwayTeam: "B", StartTime: start},
				{ExternalID: "3", HomeTeam: "A", AwayTeam: "", StartTime: start},
			},
		}},
	}

	dropped := NewValidator().ValidateSport(sport)
	require.Equal(t, 5, dropped)
	games := sport.Leagues[0].Games
	require.Len(t, games, 1)
	require.Len(t, games[0].Markets, 1)
	require.Len(t, games[0].Markets[0].Outcomes, 2)
}

func TestValidateGame(t *testing.T) {
	start := time.Date(2025, 8, 15, 19, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		game    models.ParsedGame
		wantErr bool
	}{
		{"valid", models.ParsedGame{ExternalID: "1", HomeTeam: "A", AwayTeam: "B", StartTime: start}, false},
		{"no id", models.ParsedGame{HomeTeam: "A", AwayTeam: "B", StartTime: start}, true},
		{"no away", models.ParsedGame{ExternalID: "1", HomeTeam: "A", StartTime: start}, true},
		{"no start", models.ParsedGame{ExternalID: "1", HomeTeam: "A", AwayTeam: "B"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator().ValidateGame(&tt.game)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
