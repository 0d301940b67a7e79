package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePayload_CatalogPage(t *testing.T) {
	tests := []struct {
		in   string
		want CatalogPagePayload
	}{
		{"1181:0:1:0", CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 1, EmptyStreak: 0}},
		{"1181:0:17:3", CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 17, EmptyStreak: 3}},
		{"1181:2:5", CatalogPagePayload{SportID: "1181", BetRangeFilter: "2", Page: 5}},
		{"1181", CatalogPagePayload{SportID: "1181", Page: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := DecodePayload(TaskCatalogPage, tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, p)
		})
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload(TaskCatalogPage, ":0:1:0")
	require.Error(t, err)
	_, err = DecodePayload(TaskCatalogPage, "1181:0:x:0")
	require.Error(t, err)
	_, err = DecodePayload(Task1x2, "  ")
	require.Error(t, err)
	_, err = DecodePayload("bogus", "1")
	require.Error(t, err)
}

func TestCatalogPagePayload_ExternalIDRoundTrip(t *testing.T) {
	p := CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 4, EmptyStreak: 2}
	require.Equal(t, "1181:0:4:2", p.ExternalID())

	next := p.Next(3, 0)
	require.Equal(t, "1181:0:7:0", next.ExternalID())

	decoded, err := ScrapeTask{Task: TaskCatalogPage, ExternalID: next.ExternalID()}.Payload()
	require.NoError(t, err)
	require.Equal(t, next, decoded)
}

func TestMatchPayload(t *testing.T) {
	p, err := DecodePayload(TaskFullMarkets, "12345")
	require.NoError(t, err)
	require.Equal(t, TaskFullMarkets, p.Kind())
	require.Equal(t, "12345", p.ExternalID())
}

func TestNewParsedOutcome(t *testing.T) {
	_, err := NewParsedOutcome("1", 0, nil, "")
	require.Error(t, err)
	_, err = NewParsedOutcome(" ", 1.5, nil, "")
	require.Error(t, err)
	o, err := NewParsedOutcome(" X ", 3.1, nil, "9")
	require.NoError(t, err)
	require.Equal(t, "X", o.Label)
}

func TestSameHandicap(t *testing.T) {
	require.True(t, SameHandicap(nil, nil))
	require.False(t, SameHandicap(nil, Handicap(2.5)))
	require.True(t, SameHandicap(Handicap(2.5), Handicap(2.5)))
}
