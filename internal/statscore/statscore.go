// Package statscore reads live scoreboard metadata from the Statscore
// server-rendered widget group.
package statscore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// Provider is the live meta provider name.
const Provider = "statscore"

var (
	statusRe    = regexp.MustCompile(`^(1st half|2nd half|Half time|Full time|Kick off|Live)$`)
	scoreRe     = regexp.MustCompile(`^(\d+)\s*:\s*(\d+)$`)
	homeClassRe = regexp.MustCompile(`(?i)(home|left).*team.*name`)
	awayClassRe = regexp.MustCompile(`(?i)(away|right).*team.*name`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// TextFetcher fetches a URL body. The tounesbet client satisfies it.
type TextFetcher interface {
	FetchText(ctx context.Context, rawURL string, headers http.Header) (string, error)
}

// Client fetches and parses widget groups for single events.
type Client struct {
	fetcher     TextFetcher
	baseURL     string
	widgetGroup string
	timezone    string
	timeout     time.Duration
}

func NewClient(cfg config.StatscoreConfig, fetcher TextFetcher) *Client {
	return &Client{
		fetcher:     fetcher,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		widgetGroup: cfg.WidgetGroup,
		timezone:    cfg.Timezone,
		timeout:     cfg.Timeout,
	}
}

// SSRURL builds the render-widget-group URL for lsID.
func (c *Client) SSRURL(lsID string) string {
	input, _ := json.Marshal(map[string]string{
		"eventId":  "m:" + lsID,
		"language": "en",
		"timezone": c.timezone,
	})
	q := url.Values{"inputData": {string(input)}}
	return c.baseURL + "/api/ssr/render-widget-group/" + url.PathEscape(c.widgetGroup) + "?" + q.Encode()
}

// LiveMeta fetches and parses the widget group of lsID.
func (c *Client) LiveMeta(ctx context.Context, lsID string) (models.LiveMeta, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body, err := c.fetcher.FetchText(ctx, c.SSRURL(lsID), http.Header{"Accept": {"application/json"}})
	if err != nil {
		return models.LiveMeta{}, fmt.Errorf("statscore ssr %s: %w", lsID, err)
	}
	return ParseSSR([]byte(body), lsID)
}

type ssrPayload struct {
	HTML  string `json:"html"`
	State struct {
		Event struct {
			ID        json.RawMessage `json:"id"`
			ClockTime *float64        `json:"clock_time"`
		} `json:"event"`
	} `json:"state"`
}

// ParseSSR extracts live meta from an SSR payload. Missing fields stay empty.
func ParseSSR(payload []byte, lsID string) (models.LiveMeta, error) {
	var p ssrPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.LiveMeta{}, fmt.Errorf("failed to decode statscore payload: %w", err)
	}

	meta := models.LiveMeta{
		ProviderKey:     ProviderKey(lsID),
		Provider:        Provider,
		ProviderLsID:    lsID,
		ProviderEventID: rawID(p.State.Event.ID),
	}
	if p.State.Event.ClockTime != nil {
		v := int(*p.State.Event.ClockTime)
		meta.ClockTime = &v
	}
	if p.HTML == "" {
		return meta, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return meta, fmt.Errorf("failed to parse statscore html: %w", err)
	}

	if dt, ok := doc.Find(`time[class*="competitionInfoBar__eventStartDate"]`).First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt)); err == nil {
			t = t.UTC()
			meta.StartTime = &t
		}
	}
	meta.CompetitionName = text(doc.Find("div.STATSCOREWidget--competitionInfoBar__competitionInfo").First())

	board := doc.Find(`[class*="scoreboard"]`)
	meta.HomeTeam = text(classMatch(board, homeClassRe))
	meta.AwayTeam = text(classMatch(board, awayClassRe))

	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		if m := statusRe.FindString(strings.TrimSpace(s.Text())); m != "" {
			meta.StatusName = m
			return false
		}
		return true
	})

	board.Find(`[class*="score"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := scoreRe.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if m == nil {
			return true
		}
		home, _ := strconv.Atoi(m[1])
		away, _ := strconv.Atoi(m[2])
		meta.HomeScore, meta.AwayScore = &home, &away
		return false
	})
	return meta, nil
}

// ProviderKey is the live meta row key of lsID.
func ProviderKey(lsID string) string {
	return Provider + ":ls:" + lsID
}

func classMatch(scope *goquery.Selection, re *regexp.Regexp) *goquery.Selection {
	return scope.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return re.MatchString(class)
	}).First()
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(s.Text(), " "))
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

// LiveMetaWriter stores live meta rows.
type LiveMetaWriter interface {
	UpsertLiveMeta(ctx context.Context, rows []models.LiveMeta) error
}

// Refresh fetches the live meta of lsID and upserts it into w.
func (c *Client) Refresh(ctx context.Context, w LiveMetaWriter, lsID string) (models.LiveMeta, error) {
	meta, err := c.LiveMeta(ctx, lsID)
	if err != nil {
		return meta, err
	}
	if err := w.UpsertLiveMeta(ctx, []models.LiveMeta{meta}); err != nil {
		return meta, fmt.Errorf("failed to store live meta %s: %w", lsID, err)
	}
	return meta, nil
}
