package tounesbet

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/normalize"
)

var (
	// Each odd row of MatchOddsGrouped starts with this div.
	oddRowSplitter = htmlblock.MarkerSplitter{
		Marker: regexp.MustCompile(`(?i)<div[^>]*class=["'][^"']*divOddRow[^"']*["'][^>]*>`),
	}
	oddNameRe    = regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*oddName[^"']*["'][^>]*>(.*?)</div>`)
	oddSpecialRe = regexp.MustCompile(`(?is)<div[^>]*class=["']divOddSpecial["'][^>]*>.*?<label[^>]*>(.*?)</label>`)
	oddElementRe = regexp.MustCompile(`(?i)<(div|span)\b[^>]*data-matchoddid=["'](\d+)["'][^>]*>`)
	oddClassOnly = regexp.MustCompile(`(?i)class=["'][^"']*match-odd[^"']*["']`)
	innerLabelRe = regexp.MustCompile(`(?is)<label[^>]*>(.*?)</label>`)
	quoteValueRe = regexp.MustCompile(`(?is)<span[^>]*class=["']quoteValue["'][^>]*>(.*?)</span>`)
)

// ParseMatchOddsGrouped parses a match detail page into markets. Rows without
// their own name inherit the previous market name. Rows of the same market and
// line are merged under one deterministic external id.
func ParseMatchOddsGrouped(html, matchID string) []models.ParsedMarket {
	rows := oddRowSplitter.Split(html)
	if len(rows) == 0 {
		return nil
	}

	currentName := ""
	if m := oddNameRe.FindStringSubmatch(html); m != nil {
		currentName = htmlblock.Text(m[1])
	}

	var markets []models.ParsedMarket
	index := make(map[string]int)
	for _, row := range rows {
		if m := oddNameRe.FindStringSubmatch(row); m != nil {
			currentName = htmlblock.Text(m[1])
		}

		handicap := rowHandicap(row)
		outcomes := rowOutcomes(row, handicap)
		if len(outcomes) == 0 {
			continue
		}

		name := currentName
		if name == "" {
			name = "Market"
		}
		key := normalize.MarketKey(name)
		ext := matchID + "_" + key
		if handicap != nil {
			ext += "_" + strconv.FormatFloat(*handicap, 'f', -1, 64)
		}

		if i, ok := index[ext]; ok {
			markets[i].Outcomes = append(markets[i].Outcomes, outcomes...)
			continue
		}
		index[ext] = len(markets)
		markets = append(markets, models.ParsedMarket{
			Key:        key,
			Name:       name,
			ExternalID: ext,
			Outcomes:   outcomes,
		})
	}
	return markets
}

func rowHandicap(row string) *float64 {
	m := oddSpecialRe.FindStringSubmatch(row)
	if m == nil {
		return nil
	}
	raw := strings.Replace(strings.TrimSpace(htmlblock.DecodeEntities(m[1])), ",", ".", 1)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return models.Handicap(v)
}

func rowOutcomes(row string, handicap *float64) []models.ParsedOutcome {
	var outcomes []models.ParsedOutcome
	for _, el := range htmlblock.Elements(row, oddElementRe) {
		if !oddClassOnly.MatchString(el.Open) {
			continue
		}
		id, _ := htmlblock.Attr(el.Open, "data-matchoddid")

		label := ""
		if m := innerLabelRe.FindStringSubmatch(el.Inner); m != nil {
			label = normalize.OutcomeLabel(htmlblock.Text(m[1]))
		}

		price, ok := elementPrice(el)
		if !ok {
			continue
		}
		o, err := models.NewParsedOutcome(label, price, handicap, id)
		if err != nil {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// elementPrice reads data-oddvaluedecimal, falling back to the visible quote.
func elementPrice(el htmlblock.Element) (float64, bool) {
	if raw, ok := htmlblock.Attr(el.Open, "data-oddvaluedecimal"); ok && raw != "" {
		if v, err := normalize.ParseDecimal(raw); err == nil {
			return v, true
		}
	}
	if m := quoteValueRe.FindStringSubmatch(el.Inner); m != nil {
		if v, err := normalize.ParseDecimal(htmlblock.StripTags(m[1])); err == nil {
			return v, true
		}
	}
	return 0, false
}
