package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func outcomes1x2(p1, px, p2 float64) []ParsedOutcome {
	return []ParsedOutcome{
		{Label: "1", Price: p1},
		{Label: "X", Price: px},
		{Label: "2", Price: p2},
	}
}

func TestCanonicalParsed1x2_PrefersSuffix(t *testing.T) {
	markets := []ParsedMarket{
		{Key: "1x2", Name: "1X2", ExternalID: "m1_1x2", Outcomes: outcomes1x2(1.5, 3.0, 2.1)},
		{Key: "1x2", Name: "1X2", ExternalID: "m1_other", Outcomes: outcomes1x2(1.4, 3.2, 2.3)},
	}

	got, ok := CanonicalParsed1x2(markets)
	require.True(t, ok)
	require.Equal(t, markets[0], got)
	require.Len(t, got.Outcomes, 3)
}

func TestCanonicalParsed1x2_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		markets []ParsedMarket
		wantExt string
		wantOut int
	}{
		{
			name: "name match when suffix market is malformed",
			markets: []ParsedMarket{
				{Key: "1x2", Name: "Full Time", ExternalID: "m1_1x2", Outcomes: outcomes1x2(1.5, 3.0, 2.1)[:2]},
				{Key: "1x2", Name: " 1x2 ", ExternalID: "m1_1x2_ht", Outcomes: outcomes1x2(1.5, 3.0, 2.1)},
			},
			wantExt: "m1_1x2_ht",
			wantOut: 3,
		},
		{
			name: "any well formed",
			markets: []ParsedMarket{
				{Key: "1x2", Name: "Mi-temps", ExternalID: "a", Outcomes: outcomes1x2(0, 3.0, 2.1)},
				{Key: "1x2", Name: "Résultat", ExternalID: "b", Outcomes: outcomes1x2(1.5, 3.0, 2.1)},
			},
			wantExt: "b",
			wantOut: 3,
		},
		{
			name: "first candidate",
			markets: []ParsedMarket{
				{Key: "totals", ExternalID: "t", Outcomes: outcomes1x2(1, 2, 3)},
				{Key: "1x2", ExternalID: "x", Outcomes: outcomes1x2(1.5, 3.0, 2.1)[:1]},
				{Key: "1x2", ExternalID: "y"},
			},
			wantExt: "x",
			wantOut: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CanonicalParsed1x2(tt.markets)
			require.True(t, ok)
			require.Equal(t, tt.wantExt, got.ExternalID)
			require.Len(t, got.Outcomes, tt.wantOut)
		})
	}
}

func TestCanonicalParsed1x2_FiltersOutcomes(t *testing.T) {
	m := ParsedMarket{Key: "1x2", ExternalID: "m_1x2", Outcomes: []ParsedOutcome{
		{Label: "1", Price: 1.5},
		{Label: "1", Price: 1.6},
		{Label: "Over", Price: 1.9},
		{Label: "x", Price: 3.1, Handicap: Handicap(1)},
		{Label: "x", Price: 3.0},
		{Label: "2", Price: 2.2},
	}}

	got, ok := CanonicalParsed1x2([]ParsedMarket{m})
	require.True(t, ok)
	require.Len(t, got.Outcomes, 3)
	require.Equal(t, 1.5, got.Outcomes[0].Price)
	require.Equal(t, 3.0, got.Outcomes[1].Price)
	require.Equal(t, 2.2, got.Outcomes[2].Price)
}

func TestCanonicalParsed1x2_None(t *testing.T) {
	_, ok := CanonicalParsed1x2([]ParsedMarket{{Key: "btts"}})
	require.False(t, ok)
}

func TestCanonicalStored1x2(t *testing.T) {
	markets := []MarketWithOutcomes{
		{Market: Market{ID: 7, ExternalID: "55_1x2", Key: "1x2", Name: "1X2"}, Outcomes: []Outcome{
			{ID: 1, Label: "1", Price: 1.8}, {ID: 2, Label: "X", Price: 3.4}, {ID: 3, Label: "2", Price: 4.2},
		}},
	}
	got, ok := CanonicalStored1x2(markets)
	require.True(t, ok)
	require.Equal(t, int64(7), got.ID)
	require.Len(t, got.Outcomes, 3)
}

func TestHasComplete1x2(t *testing.T) {
	require.True(t, HasComplete1x2(ParsedGame{Markets: []ParsedMarket{{Key: "1x2", Outcomes: outcomes1x2(1.1, 2, 3)}}}))
	require.False(t, HasComplete1x2(ParsedGame{}))
	require.False(t, HasComplete1x2(ParsedGame{Markets: []ParsedMarket{{Key: "1x2", Outcomes: outcomes1x2(1.1, 2, 3)[:2]}}}))
}
