package tounesbet

import (
	"regexp"
	"strings"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
)

// section is one tournament header and everything up to the next header.
type section struct {
	header string
	name   string // text of the header's first submatch, if any
	block  string
}

// splitSections cuts scope at each header match. When the header pattern has
// a capture group its text becomes the section name.
func splitSections(scope string, header *regexp.Regexp) []section {
	locs := header.FindAllStringSubmatchIndex(scope, -1)
	sections := make([]section, 0, len(locs))
	for i, loc := range locs {
		end := len(scope)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		s := section{
			header: scope[loc[0]:loc[1]],
			block:  scope[loc[0]:end],
		}
		if len(loc) >= 4 && loc[2] >= 0 {
			s.name = htmlblock.Text(scope[loc[2]:loc[3]])
		}
		sections = append(sections, s)
	}
	return sections
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), b)
}
