package tounesbet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

var liveTableOpenRe = regexp.MustCompile(`(?i)<table[^>]*id=["']live_matches_table["']`)

func xhrHeaders() http.Header {
	h := http.Header{}
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

// bases returns the primary origin followed by the fallback, if distinct.
func (c *Client) bases() []string {
	out := []string{c.baseURL}
	if c.fallbackBaseURL != "" && c.fallbackBaseURL != c.baseURL {
		out = append(out, c.fallbackBaseURL)
	}
	return out
}

// fetchFirst tries path on every origin and returns the first strict success.
func (c *Client) fetchFirst(ctx context.Context, path string, headers http.Header, accept func(string) bool) (string, error) {
	var lastErr error
	for _, base := range c.bases() {
		html, err := c.FetchText(ctx, base+path, headers)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if accept != nil && !accept(html) {
			lastErr = fmt.Errorf("unexpected content at %s", base+path)
			continue
		}
		return html, nil
	}
	return "", lastErr
}

// PrematchHTML fetches the prematch landing page.
func (c *Client) PrematchHTML(ctx context.Context) (string, error) {
	return c.fetchFirst(ctx, "/Prematch", nil, nil)
}

// NextMatchesHTML fetches the upcoming matches fragment for a sport.
func (c *Client) NextMatchesHTML(ctx context.Context, sportID string) (string, error) {
	q := url.Values{"SportId": {sportID}}
	return c.fetchFirst(ctx, "/Match/NextMatches?"+q.Encode(), xhrHeaders(), nil)
}

// SportMatchListHTML fetches one catalog page. The /Sport/{id} page is used
// when it carries match rows, otherwise the legacy matchList endpoint.
func (c *Client) SportMatchListHTML(ctx context.Context, sportID, betRangeFilter string, page int) (string, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("BetRangeFilter", betRangeFilter)
	q.Set("Page_number", strconv.Itoa(page))
	q.Set("d", "1")
	q.Set("DateDay", "all_days")

	html, err := c.fetchFirst(ctx, "/Sport/"+url.PathEscape(sportID)+"?"+q.Encode(), xhrHeaders(), HasMatchMarkers)
	if err == nil {
		return html, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	c.logger.Debug("sport page without match rows, using legacy list", "sport_id", sportID, "page", page, "error", err)

	q.Set("SportId", sportID)
	return c.fetchFirst(ctx, "/Sport/matchList?"+q.Encode(), xhrHeaders(), nil)
}

// LiveHTML fetches the live board, preferring the page with the live table.
func (c *Client) LiveHTML(ctx context.Context) (string, error) {
	html, err := c.fetchFirst(ctx, "/paris-sportif-live", nil, liveTableOpenRe.MatchString)
	if err == nil {
		return html, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return c.fetchFirst(ctx, "/Live", nil, nil)
}

// PopularMatchesHTML fetches the popular matches slider.
func (c *Client) PopularMatchesHTML(ctx context.Context, sportID, dateDay, betRangeFilter string) (string, error) {
	if dateDay == "" {
		dateDay = "all_days"
	}
	q := url.Values{}
	q.Set("SportId", sportID)
	q.Set("DateDay", dateDay)
	q.Set("BetRangeFilter", betRangeFilter)
	return c.fetchFirst(ctx, "/Match/PopularMatches?"+q.Encode(), nil, nil)
}

// SportHTML fetches the sport landing page with navigation.
func (c *Client) SportHTML(ctx context.Context, sportID, betRangeFilter string) (string, error) {
	q := url.Values{}
	q.Set("SelectedSportId", sportID)
	q.Set("BetRangeFilter", betRangeFilter)
	return c.fetchFirst(ctx, "/Sport?"+q.Encode(), nil, nil)
}

// MatchOddsGroupedURL is the detail endpoint of a match on the given origin.
func MatchOddsGroupedURL(base, matchID string) string {
	return base + "/Match/MatchOddsGrouped?" + url.Values{"matchId": {matchID}}.Encode()
}

// FetchMatchMarkets fetches and parses every market of one match.
func (c *Client) FetchMatchMarkets(ctx context.Context, matchID string) ([]models.ParsedMarket, error) {
	var last *FetchResult
	var lastErr error
	for _, base := range c.bases() {
		res, err := c.FetchDetailed(ctx, MatchOddsGroupedURL(base, matchID), xhrHeaders())
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil, err
			}
			continue
		}
		last = res
		if res.OK() {
			return ParseMatchOddsGrouped(res.Text, matchID), nil
		}
	}
	if last != nil {
		return nil, fmt.Errorf("MatchOddsGrouped failed status=%d url=%s", last.Status, last.FinalURL)
	}
	return nil, lastErr
}

// Probe fetches an arbitrary site path and reports what came back.
func (c *Client) Probe(ctx context.Context, path string) (*FetchResult, error) {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return c.FetchDetailed(ctx, c.baseURL+path, nil)
}
