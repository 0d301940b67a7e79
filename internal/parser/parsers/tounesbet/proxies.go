package tounesbet

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
)

// ProxyCheck is the outcome of probing the site through one proxy.
type ProxyCheck struct {
	Proxy    string        `json:"proxy"`
	OK       bool          `json:"ok"`
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CheckProxies probes path through every proxy of cfg.ProxyList, one
// attempt each, in parallel. Results keep the order of the list.
func CheckProxies(ctx context.Context, cfg config.TounesbetConfig, path string, opts ...Option) []ProxyCheck {
	seen := make(map[string]struct{}, len(cfg.ProxyList))
	var list []string
	for _, p := range cfg.ProxyList {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		list = append(list, p)
	}

	results := make([]ProxyCheck, len(list))
	var g errgroup.Group
	g.SetLimit(8)
	for i, proxy := range list {
		g.Go(func() error {
			one := cfg
			one.ProxyList = []string{proxy}
			one.FallbackBaseURL = ""
			one.Attempts = 1
			c := NewClient(one, opts...)

			started := time.Now()
			res, err := c.Probe(ctx, path)
			r := ProxyCheck{Proxy: MaskProxy(proxy), Duration: time.Since(started)}
			if res != nil {
				r.Status = res.Status
			}
			switch {
			case err != nil:
				r.Error = err.Error()
			case !res.OK():
				r.Error = "unexpected status"
			case LooksBlocked(res.Text):
				r.Error = "blocked"
			default:
				r.OK = true
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// MaskProxy hides the password of a proxy URL.
func MaskProxy(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
