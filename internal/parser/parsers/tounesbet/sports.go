package tounesbet

import (
	"regexp"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/normalize"
)

// FootballSportID is the site's id for football.
const FootballSportID = "1181"

var (
	mainNavRe     = regexp.MustCompile(`(?is)<nav[^>]*id=["']main_nav["'][^>]*>.*?</nav>`)
	selectedNavRe = regexp.MustCompile(`(?i)<a[^>]*class=["'][^"']*sport_item[^"']*selected[^"']*["'][^>]*data-sportid=["'](\d+)["'][^>]*>`)
	navItemRe     = regexp.MustCompile(`(?is)<a[^>]*class=["'][^"']*sport_item[^"']*["'][^>]*data-sportid=["'](\d+)["'].*?<span[^>]*class=["'][^"']*menu-sport-name[^"']*["'][^>]*>(.*?)</span>.*?</a>`)
)

// SportKeyName returns the stored key and display name for a site sport id.
func SportKeyName(sportID string) (key, name string) {
	if sportID == FootballSportID {
		return "football", "Football"
	}
	return "sport-" + sportID, "Sport " + sportID
}

func navScope(html string) string {
	if nav := htmlblock.Region(html, mainNavRe); nav != "" {
		return nav
	}
	return html
}

// SelectedSportID returns the sport highlighted in the main navigation.
func SelectedSportID(html string) (string, bool) {
	m := selectedNavRe.FindStringSubmatch(navScope(html))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseNavSports lists the sports of the prematch navigation, without leagues.
func ParseNavSports(html string) []models.ParsedSport {
	var sports []models.ParsedSport
	seen := make(map[string]bool)
	for _, m := range navItemRe.FindAllStringSubmatch(navScope(html), -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		name := htmlblock.Text(m[2])
		sports = append(sports, models.ParsedSport{
			Key:        normalize.Slugify(name),
			Name:       name,
			ExternalID: id,
		})
	}
	return sports
}
