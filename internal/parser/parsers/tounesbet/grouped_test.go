package tounesbet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const groupedFixture = `
<div class="oddName">1X2</div>
<div class="divOddRow">
  <div class="match-odd" data-matchoddid="11" data-oddvaluedecimal="1.80"><label>1</label></div>
  <div class="match-odd" data-matchoddid="12" data-oddvaluedecimal="3.40"><label>X</label></div>
  <div class="match-odd" data-matchoddid="13"><label>2</label><span class="quoteValue">4,20</span></div>
</div>
<div class="divOddRow">
  <div class="oddName">Total buts</div>
  <div class="divOddSpecial"><label>2,5</label></div>
  <div class="match-odd" data-matchoddid="21" data-oddvaluedecimal="1.95"><label>Plus</label></div>
</div>
<div class="divOddRow">
  <div class="divOddSpecial"><label>3,5</label></div>
  <div class="match-odd" data-matchoddid="31" data-oddvaluedecimal="2.90"><label>Plus</label></div>
  <div class="match-odd" data-matchoddid="32" data-oddvaluedecimal="1.40"><label>Moins</label></div>
</div>
<div class="divOddRow">
  <div class="divOddSpecial"><label>2,5</label></div>
  <div class="match-odd" data-matchoddid="22" data-oddvaluedecimal="1.85"><label>Moins</label></div>
  <div class="odd-disabled" data-matchoddid="23" data-oddvaluedecimal="9.00"><label>Plus</label></div>
</div>
<div class="divOddRow">
  <div class="oddName">Les deux équipes marquent</div>
  <div class="match-odd" data-matchoddid="41"><label>Oui</label></div>
</div>`

func TestParseMatchOddsGrouped(t *testing.T) {
	markets := ParseMatchOddsGrouped(groupedFixture, "777")
	require.Len(t, markets, 3)

	oneX2 := markets[0]
	require.Equal(t, "1x2", oneX2.Key)
	require.Equal(t, "1X2", oneX2.Name)
	require.Equal(t, "777_1x2", oneX2.ExternalID)
	require.Len(t, oneX2.Outcomes, 3)
	require.Equal(t, "2", oneX2.Outcomes[2].Label)
	require.InDelta(t, 4.20, oneX2.Outcomes[2].Price, 1e-9, "quoteValue fallback")
	require.Equal(t, "13", oneX2.Outcomes[2].ExternalID)

	over25 := markets[1]
	require.Equal(t, "totals", over25.Key)
	require.Equal(t, "777_totals_2.5", over25.ExternalID)
	require.Len(t, over25.Outcomes, 2, "rows with the same line are merged")
	require.Equal(t, "Over", over25.Outcomes[0].Label)
	require.Equal(t, "Under", over25.Outcomes[1].Label)
	require.InDelta(t, 2.5, *over25.Outcomes[1].Handicap, 1e-9)

	over35 := markets[2]
	require.Equal(t, "777_totals_3.5", over35.ExternalID)
	require.Equal(t, "Total buts", over35.Name, "name carries over from the previous row")
	require.Len(t, over35.Outcomes, 2)
}

func TestParseMatchOddsGrouped_Empty(t *testing.T) {
	require.Empty(t, ParseMatchOddsGrouped("", "1"))
	require.Empty(t, ParseMatchOddsGrouped(`<div class="oddName">1X2</div>`, "1"))
}

func TestParseMatchOddsGrouped_DefaultName(t *testing.T) {
	html := `<div class="divOddRow"><div class="match-odd" data-matchoddid="5" data-oddvaluedecimal="1.5"><label>A</label></div></div>`
	markets := ParseMatchOddsGrouped(html, "9")
	require.Len(t, markets, 1)
	require.Equal(t, "Market", markets[0].Name)
	require.Equal(t, "market", markets[0].Key)
	require.Equal(t, "9_market", markets[0].ExternalID)
}
