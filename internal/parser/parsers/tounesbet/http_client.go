package tounesbet

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
	acceptHTML       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage   = "en-US,en;q=0.9"

	defaultRetryDelay = 300 * time.Millisecond
	bodyPreviewLimit  = 500
)

var (
	// document.cookie="name=value; path=/"
	challengeCookieRe = regexp.MustCompile(`(?i)document\.cookie\s*=\s*"([^";=]+)=([^;]+)\s*;\s*path=/`)
	// location.href="..."
	challengeHrefRe = regexp.MustCompile(`(?i)location\.href\s*=\s*"([^"]+)"`)
	// Commas that start a new name=value pair in a folded Set-Cookie value.
	// Commas inside Expires dates are followed by a space, so they never match.
	setCookieSplitRe = regexp.MustCompile(`,\s*[^;,=\s]+=`)
	setCookiePairRe  = regexp.MustCompile(`([^=;\s]+)=([^;]+)`)
)

// FetchResult is the full outcome of a fetch. HTTP status is data, not an error.
type FetchResult struct {
	Status      int    `json:"status"`
	FinalURL    string `json:"final_url"`
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
}

// OK reports a 2xx status.
func (r *FetchResult) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Session accumulates cookies across requests and redirect hops.
type Session struct {
	mu      sync.Mutex
	names   []string
	cookies map[string]string
}

// NewSession returns an empty cookie session.
func NewSession() *Session {
	return &Session{cookies: make(map[string]string)}
}

// Set stores a cookie, keeping first-seen order for the Cookie header.
func (s *Session) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cookies[name]; !ok {
		s.names = append(s.names, name)
	}
	s.cookies[name] = value
}

// Get returns a cookie value.
func (s *Session) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cookies[name]
	return v, ok
}

// Header renders "k=v; k2=v2", or "" when empty.
func (s *Session) Header() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, 0, len(s.names))
	for _, n := range s.names {
		parts = append(parts, n+"="+s.cookies[n])
	}
	return strings.Join(parts, "; ")
}

// absorbSetCookie parses Set-Cookie values best-effort, including several
// cookies folded into one comma-separated value.
func (s *Session) absorbSetCookie(values []string) {
	for _, v := range values {
		for _, part := range splitSetCookie(v) {
			if m := setCookiePairRe.FindStringSubmatch(part); m != nil {
				s.Set(m[1], m[2])
			}
		}
	}
}

func splitSetCookie(v string) []string {
	var parts []string
	start := 0
	for _, loc := range setCookieSplitRe.FindAllStringIndex(v, -1) {
		parts = append(parts, v[start:loc[0]])
		start = loc[0] + 1
	}
	return append(parts, v[start:])
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRetryDelay sets the linear backoff unit between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithBrowser enables the headless browser fallback for unresolved gates.
func WithBrowser(b PageFetcher) Option {
	return func(c *Client) { c.browser = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// FetchObserver is told about every physical request.
type FetchObserver func(url string, status int, d time.Duration, err error)

// WithObserver registers a per-request observer, e.g. a metrics tracker.
func WithObserver(o FetchObserver) Option {
	return func(c *Client) { c.observe = o }
}

// PageFetcher renders a page some other way, e.g. in a real browser.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// Client fetches Tounesbet pages through its JS cookie gate.
type Client struct {
	baseURL         string
	fallbackBaseURL string
	userAgent       string
	timeout         time.Duration
	attempts        int
	maxHops         int
	sessionMaxHops  int
	retryDelay      time.Duration

	client  *http.Client
	limiter *rate.Limiter
	browser PageFetcher
	logger  *slog.Logger
	observe FetchObserver

	proxyList []string
	proxyNext atomic.Uint32

	requests atomic.Int64
}

// NewClient creates a Tounesbet HTTP client.
func NewClient(cfg config.TounesbetConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		fallbackBaseURL: strings.TrimSuffix(cfg.FallbackBaseURL, "/"),
		userAgent:       cfg.UserAgent,
		timeout:         cfg.Timeout,
		attempts:        cfg.Attempts,
		maxHops:         cfg.MaxHops,
		sessionMaxHops:  cfg.SessionMaxHops,
		retryDelay:      defaultRetryDelay,
		proxyList:       cfg.ProxyList,
		logger:          slog.Default(),
	}
	if c.baseURL == "" {
		c.baseURL = "https://tounesbet.com"
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.maxHops <= 0 {
		c.maxHops = 5
	}
	if c.sessionMaxHops <= 0 {
		c.sessionMaxHops = 7
	}

	if cfg.MinDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	if os.Getenv("TOUNESBET_INSECURE_TLS") == "1" {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	transport.DisableCompression = true
	transport.Proxy = c.proxyFunc()

	c.client = &http.Client{Transport: transport}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tounesbet_client")
	return c
}

// proxyFunc rotates through the configured proxies, falling back to the environment.
func (c *Client) proxyFunc() func(*http.Request) (*url.URL, error) {
	if len(c.proxyList) == 0 {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		i := int(c.proxyNext.Add(1)-1) % len(c.proxyList)
		return url.Parse(c.proxyList[i])
	}
}

// Requests returns the number of physical requests made.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// FetchText follows the cookie gate with a fresh session and returns the body.
// Any non-2xx status after retries is an error.
func (c *Client) FetchText(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	res, err := c.bypass(ctx, rawURL, headers, NewSession(), c.maxHops, true)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// FetchDetailed follows the cookie gate with a fresh session and returns the
// final response whatever its status. Only transport failures are errors.
func (c *Client) FetchDetailed(ctx context.Context, rawURL string, headers http.Header) (*FetchResult, error) {
	return c.bypass(ctx, rawURL, headers, NewSession(), c.maxHops, false)
}

// FetchSession is FetchDetailed with caller-owned cookies and the longer hop budget.
func (c *Client) FetchSession(ctx context.Context, rawURL string, headers http.Header, session *Session) (*FetchResult, error) {
	return c.bypass(ctx, rawURL, headers, session, c.sessionMaxHops, false)
}

func (c *Client) bypass(ctx context.Context, rawURL string, headers http.Header, session *Session, maxHops int, strict bool) (*FetchResult, error) {
	current := rawURL
	for hop := 0; hop < maxHops; hop++ {
		h := c.baseHeaders(headers)
		if cookie := session.Header(); cookie != "" {
			h.Set("Cookie", cookie)
		}
		if origin, err := originOf(current); err == nil {
			h.Set("Referer", origin+"/")
		}

		var (
			res  *FetchResult
			resp http.Header
			err  error
		)
		if strict {
			res, resp, err = c.getOK(ctx, current, h)
		} else {
			res, resp, err = c.getAny(ctx, current, h)
		}
		if err != nil {
			return nil, err
		}
		session.absorbSetCookie(resp.Values("Set-Cookie"))

		name, value, next, ok := detectChallenge(res.Text)
		if !ok {
			return res, nil
		}
		session.Set(name, value)
		current = resolveURL(current, next)
		c.logger.Debug("cookie gate hop", "hop", hop+1, "cookie", name, "next", current)
	}

	if c.browser != nil {
		c.logger.Warn("cookie gate unresolved, using browser fallback", "url", rawURL)
		res, err := c.browser.Fetch(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("browser fallback for %s: %w", rawURL, err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrRedirectLoop, rawURL)
}

// detectChallenge finds the inline script that sets a cookie and navigates away.
func detectChallenge(body string) (name, value, next string, ok bool) {
	cm := challengeCookieRe.FindStringSubmatch(body)
	hm := challengeHrefRe.FindStringSubmatch(body)
	if cm == nil || hm == nil {
		return "", "", "", false
	}
	return cm[1], strings.TrimSpace(cm[2]), hm[1], true
}

func resolveURL(current, next string) string {
	base, err := url.Parse(current)
	if err != nil {
		return next
	}
	ref, err := url.Parse(next)
	if err != nil {
		return next
	}
	return base.ResolveReference(ref).String()
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (c *Client) baseHeaders(extra http.Header) http.Header {
	h := http.Header{}
	h.Set("Accept", acceptHTML)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("User-Agent", c.userAgent)
	for k, vs := range extra {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

// getOK retries transport failures and non-2xx statuses.
func (c *Client) getOK(ctx context.Context, rawURL string, h http.Header) (*FetchResult, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		res, hdr, err := c.do(ctx, rawURL, h)
		if err == nil && res.OK() {
			return res, hdr, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &models.FetchError{URL: rawURL, Status: res.Status}
			c.logger.Warn("unexpected status", "url", rawURL, "status", res.Status, "attempt", attempt,
				"body_preview", preview(res.Text))
		}
		if err := c.wait(ctx, attempt); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

// getAny retries transport failures only.
func (c *Client) getAny(ctx context.Context, rawURL string, h http.Header) (*FetchResult, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		res, hdr, err := c.do(ctx, rawURL, h)
		if err == nil {
			return res, hdr, nil
		}
		lastErr = err
		if err := c.wait(ctx, attempt); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	if attempt >= c.attempts {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay * time.Duration(attempt)):
		return nil
	}
}

// do performs one physical request bounded by the per-attempt timeout.
func (c *Client) do(ctx context.Context, rawURL string, h http.Header) (*FetchResult, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = h.Clone()

	c.requests.Add(1)
	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.notify(rawURL, 0, started, err)
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	c.notify(rawURL, resp.StatusCode, started, nil)
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", rawURL, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}

	return &FetchResult{
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		Text:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
	}, resp.Header, nil
}

func (c *Client) notify(rawURL string, status int, started time.Time, err error) {
	if c.observe != nil {
		c.observe(rawURL, status, time.Since(started), err)
	}
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func preview(body string) string {
	if len(body) > bodyPreviewLimit {
		return body[:bodyPreviewLimit] + "..."
	}
	return body
}
