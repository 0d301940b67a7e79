// Package normalize turns upstream odds strings and labels into canonical values.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
)

// Canonical market keys.
const (
	Market1x2          = "1x2"
	MarketDoubleChance = "double_chance"
	MarketBTTS         = "btts"
	MarketTotals       = "totals"
	MarketHTFT         = "ht_ft"
	MarketCorrectScore = "correct_score"
	MarketOther        = "other"
)

var (
	decimalJunkRe = regexp.MustCompile(`[^0-9,.\-]`)
	nonSlugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParseDecimal parses an odds string. When the string has a comma and no dot,
// dots are dropped and the comma becomes the decimal point; otherwise commas
// are dropped. The rule is kept exactly as is: "2,50" is 2.5 and "2.50" is 2.5.
func ParseDecimal(s string) (float64, error) {
	cleaned := decimalJunkRe.ReplaceAllString(strings.TrimSpace(s), "")
	if strings.Contains(cleaned, ",") && !strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(strings.ReplaceAll(cleaned, ".", ""), ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse decimal %q: %w", s, err)
	}
	return v, nil
}

// OutcomeLabel maps French and English synonyms to Over/Under/Yes/No and
// passes anything else through trimmed.
func OutcomeLabel(label string) string {
	t := strings.TrimSpace(htmlblock.DecodeEntities(label))
	switch strings.ToLower(t) {
	case "plus", "over":
		return "Over"
	case "moins", "under":
		return "Under"
	case "oui", "yes":
		return "Yes"
	case "non", "no":
		return "No"
	}
	return t
}

// MarketKey classifies a market display name. Checks are ordered; the first match wins.
func MarketKey(name string) string {
	n := strings.ToLower(htmlblock.DecodeEntities(name))
	switch {
	case strings.Contains(n, "1x2"):
		return Market1x2
	case strings.Contains(n, "double chance"):
		return MarketDoubleChance
	case strings.Contains(n, "les deux"), strings.Contains(n, "both"):
		return MarketBTTS
	case strings.Contains(n, "total"), strings.Contains(n, "under / over"), strings.Contains(n, "under/over"):
		return MarketTotals
	case strings.Contains(n, "mt/r.fin"):
		return MarketHTFT
	case strings.Contains(n, "score exact"):
		return MarketCorrectScore
	}
	if slug := Slugify(n); slug != "" {
		return slug
	}
	return MarketOther
}

// Slugify strips diacritics, lowercases and collapses everything that is not
// [a-z0-9] into single hyphens. The result never starts or ends with a hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(htmlblock.DecodeEntities(s)))
	if err != nil {
		folded = strings.ToLower(s)
	}
	slug := nonSlugRe.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}
