// Package logo builds the provider chain that sources company logos.
package logo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/portfolio-engine/internal/resolver"
)

// Provider names, in chain order.
const (
	ProviderBrandfetch = "brandfetch"
	ProviderClearbit   = "clearbit"
	ProviderSiteIcon   = "site-icon"
	ProviderFavicon    = "favicon-service"
)

const (
	defaultBrandfetchURL = "https://api.brandfetch.io/v2/brands"
	defaultClearbitURL   = "https://logo.clearbit.com"
	defaultFaviconURL    = "https://www.google.com/s2/favicons"
	maxPageBytes         = 1 << 20
)

// Config configures the logo providers.
type Config struct {
	BrandfetchAPIKey  string
	BrandfetchBaseURL string
	ClearbitBaseURL   string
	FaviconBaseURL    string
	Timeout           time.Duration
	RatePerSecond     float64
	Burst             int
	// SiteURL maps a domain to the homepage fetched by the site-icon
	// provider. Defaults to https://<domain>/.
	SiteURL func(domain string) string
}

// Sources performs the outbound calls behind each logo provider.
type Sources struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New returns Sources. A nil client uses http.DefaultClient.
func New(cfg Config, client *http.Client) *Sources {
	if cfg.BrandfetchBaseURL == "" {
		cfg.BrandfetchBaseURL = defaultBrandfetchURL
	}
	if cfg.ClearbitBaseURL == "" {
		cfg.ClearbitBaseURL = defaultClearbitURL
	}
	if cfg.FaviconBaseURL == "" {
		cfg.FaviconBaseURL = defaultFaviconURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SiteURL == nil {
		cfg.SiteURL = func(domain string) string { return "https://" + domain + "/" }
	}
	if client == nil {
		client = http.DefaultClient
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Sources{cfg: cfg, http: client, limiter: rate.NewLimiter(limit, burst)}
}

// Chain returns the logo providers in priority order.
func (s *Sources) Chain() []resolver.Provider {
	return []resolver.Provider{
		{
			Name:       ProviderBrandfetch,
			Timeout:    s.cfg.Timeout,
			Configured: func() bool { return s.cfg.BrandfetchAPIKey != "" },
			Resolve:    s.brandfetch,
		},
		{Name: ProviderClearbit, Timeout: s.cfg.Timeout, Resolve: s.clearbit},
		{Name: ProviderSiteIcon, Timeout: s.cfg.Timeout, Resolve: s.siteIcon},
		{Name: ProviderFavicon, Timeout: s.cfg.Timeout, Resolve: s.favicon, Fallback: true},
	}
}

// Key is the resolver cache key for domain.
func Key(domain string) string {
	return "logo:" + domain
}

func domainFromKey(key string) (string, error) {
	d := strings.TrimPrefix(key, "logo:")
	if !validDomain.MatchString(d) {
		return "", fmt.Errorf("invalid domain %q", d)
	}
	return d, nil
}

type brandfetchResponse struct {
	Logos []struct {
		Type    string `json:"type"`
		Theme   string `json:"theme"`
		Formats []struct {
			Src    string `json:"src"`
			Format string `json:"format"`
		} `json:"formats"`
	} `json:"logos"`
}

func (s *Sources) brandfetch(ctx context.Context, key string) (string, error) {
	domain, err := domainFromKey(key)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BrandfetchBaseURL+"/"+url.PathEscape(domain), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BrandfetchAPIKey)

	resp, err := s.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", resolver.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("brandfetch: unexpected status %d", resp.StatusCode)
	}

	var body brandfetchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("brandfetch: decode response: %w", err)
	}
	for _, want := range []string{"logo", "symbol", "icon"} {
		for _, l := range body.Logos {
			if l.Type != want {
				continue
			}
			for _, f := range l.Formats {
				if f.Src != "" {
					return f.Src, nil
				}
			}
		}
	}
	return "", resolver.ErrNotFound
}

func (s *Sources) clearbit(ctx context.Context, key string) (string, error) {
	domain, err := domainFromKey(key)
	if err != nil {
		return "", err
	}
	logoURL := s.cfg.ClearbitBaseURL + "/" + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, logoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.do(ctx, req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", resolver.ErrNotFound
	}
	return logoURL, nil
}

// iconSelectors are tried in order against the homepage.
var iconSelectors = []struct {
	selector string
	attr     string
}{
	{`link[rel~="apple-touch-icon"]`, "href"},
	{`link[rel~="icon"]`, "href"},
	{`meta[property="og:image"]`, "content"},
}

func (s *Sources) siteIcon(ctx context.Context, key string) (string, error) {
	domain, err := domainFromKey(key)
	if err != nil {
		return "", err
	}
	pageURL := s.cfg.SiteURL(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("site-icon: unexpected status %d", resp.StatusCode)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	return ExtractIcon(io.LimitReader(resp.Body, maxPageBytes), base)
}

// ExtractIcon returns the best icon URL declared by the HTML page in r,
// resolved against base.
func ExtractIcon(r io.Reader, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	for _, sel := range iconSelectors {
		var found string
		doc.Find(sel.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr(sel.attr)
			href = strings.TrimSpace(href)
			if !ok || href == "" || strings.HasPrefix(href, "data:") {
				return true
			}
			ref, err := url.Parse(href)
			if err != nil {
				return true
			}
			found = base.ResolveReference(ref).String()
			return false
		})
		if found != "" {
			return found, nil
		}
	}
	return "", resolver.ErrNotFound
}

func (s *Sources) favicon(_ context.Context, key string) (string, error) {
	domain, err := domainFromKey(key)
	if err != nil {
		return "", err
	}
	q := url.Values{"domain": {domain}, "sz": {"128"}}
	return s.cfg.FaviconBaseURL + "?" + q.Encode(), nil
}

func (s *Sources) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "portfolio-engine/1.0")
	return s.http.Do(req)
}
