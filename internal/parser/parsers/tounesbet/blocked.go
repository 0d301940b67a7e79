package tounesbet

import (
	"regexp"
	"strings"
)

const noActiveMatches = "Actuellement, il n'y a pas de correspondances actives."

var (
	blockedMarkers = []string{
		"cloudflare",
		"checking your browser",
		"attention required",
		"cf-ray",
		"cdn-cgi",
	}
	matchMarkerRe = regexp.MustCompile(`(?i)data-matchid=["']\d+["']|matchesTableBody`)
)

// LooksBlocked reports whether a match list response is an anti-bot page
// rather than real content. The site's own "no active matches" notice is
// a legitimate empty page.
func LooksBlocked(html string) bool {
	if strings.Contains(html, noActiveMatches) {
		return false
	}
	if strings.TrimSpace(html) == "" {
		return true
	}
	lower := strings.ToLower(html)
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	_, _, _, challenge := detectChallenge(html)
	return challenge
}

// HasMatchMarkers reports whether html contains at least one match row.
func HasMatchMarkers(html string) bool {
	return matchMarkerRe.MatchString(html)
}
