package models

import "strings"

type oneX2Outcome interface {
	GetLabel() string
	GetPrice() float64
	GetHandicap() *float64
}

type oneX2Market[O oneX2Outcome] interface {
	GetExternalID() string
	GetKey() string
	GetName() string
	GetOutcomes() []O
}

func (o ParsedOutcome) GetLabel() string      { return o.Label }
func (o ParsedOutcome) GetPrice() float64     { return o.Price }
func (o ParsedOutcome) GetHandicap() *float64 { return o.Handicap }

func (m ParsedMarket) GetExternalID() string        { return m.ExternalID }
func (m ParsedMarket) GetKey() string               { return m.Key }
func (m ParsedMarket) GetName() string              { return m.Name }
func (m ParsedMarket) GetOutcomes() []ParsedOutcome { return m.Outcomes }

func (o Outcome) GetLabel() string      { return o.Label }
func (o Outcome) GetPrice() float64     { return o.Price }
func (o Outcome) GetHandicap() *float64 { return o.Handicap }

func (m MarketWithOutcomes) GetExternalID() string  { return m.ExternalID }
func (m MarketWithOutcomes) GetKey() string         { return m.Key }
func (m MarketWithOutcomes) GetName() string        { return m.Name }
func (m MarketWithOutcomes) GetOutcomes() []Outcome { return m.Outcomes }

// Canonical1x2 selects the headline three-way market among markets keyed
// "1x2". Preference: external id ending in _1x2, then display name "1X2",
// then any well-formed three-way market, then the first candidate. The
// returned outcomes keep only labels 1/X/2 without handicap, first occurrence
// of each, at most three.
func Canonical1x2[M oneX2Market[O], O oneX2Outcome](markets []M) (M, []O, bool) {
	var zero M
	var candidates []M
	for _, m := range markets {
		if strings.EqualFold(strings.TrimSpace(m.GetKey()), "1x2") {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return zero, nil, false
	}

	wellFormed := func(m M) bool {
		outs := oneX2Outcomes(m.GetOutcomes())
		if len(outs) != 3 {
			return false
		}
		for _, o := range outs {
			if !(o.GetPrice() > 0) {
				return false
			}
		}
		return true
	}

	rules := []func(M) bool{
		func(m M) bool { return strings.HasSuffix(m.GetExternalID(), "_1x2") && wellFormed(m) },
		func(m M) bool { return strings.ToUpper(strings.TrimSpace(m.GetName())) == "1X2" && wellFormed(m) },
		wellFormed,
	}
	for _, rule := range rules {
		for _, m := range candidates {
			if rule(m) {
				return m, oneX2Outcomes(m.GetOutcomes()), true
			}
		}
	}
	return candidates[0], oneX2Outcomes(candidates[0].GetOutcomes()), true
}

func oneX2Outcomes[O oneX2Outcome](outs []O) []O {
	seen := make(map[string]bool, 3)
	cleaned := make([]O, 0, 3)
	for _, o := range outs {
		l := strings.ToUpper(strings.TrimSpace(o.GetLabel()))
		if l != "1" && l != "X" && l != "2" {
			continue
		}
		if o.GetHandicap() != nil || seen[l] {
			continue
		}
		seen[l] = true
		cleaned = append(cleaned, o)
		if len(seen) >= 3 {
			break
		}
	}
	return cleaned
}

// CanonicalParsed1x2 applies Canonical1x2 to parsed markets and returns the
// market with its outcomes filtered.
func CanonicalParsed1x2(markets []ParsedMarket) (ParsedMarket, bool) {
	m, outs, ok := Canonical1x2[ParsedMarket, ParsedOutcome](markets)
	if !ok {
		return ParsedMarket{}, false
	}
	m.Outcomes = outs
	return m, true
}

// CanonicalStored1x2 applies Canonical1x2 to stored markets.
func CanonicalStored1x2(markets []MarketWithOutcomes) (MarketWithOutcomes, bool) {
	m, outs, ok := Canonical1x2[MarketWithOutcomes, Outcome](markets)
	if !ok {
		return MarketWithOutcomes{}, false
	}
	m.Outcomes = outs
	return m, true
}

// HasComplete1x2 reports whether a parsed game already carries a priced 1/X/2 market.
func HasComplete1x2(g ParsedGame) bool {
	m, ok := CanonicalParsed1x2(g.Markets)
	if !ok || len(m.Outcomes) < 3 {
		return false
	}
	for _, o := range m.Outcomes {
		if !(o.Price > 0) {
			return false
		}
	}
	return true
}
