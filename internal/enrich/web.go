package enrich

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes   = 512 * 1024
	maxTitleLen    = 200
	maxDescLen     = 500
)

var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaDescRe = regexp.MustCompile(`(?i)<meta[^>]+name=["']description["'][^>]+content=["'](.*?)["']`)
)

// techSignals maps technology names to substring markers tested against the
// lowercased page body. Detection is non-exclusive: every matching entry is
// reported, in this order.
var techSignals = []struct {
	name    string
	signals []string
}{
	{"WordPress", []string{"wp-content", "wp-includes"}},
	{"Shopify", []string{"cdn.shopify.com", "shopify"}},
	{"React", []string{"react", "__next", "reactdom"}},
	{"Vue", []string{"vue.js", "__vue"}},
	{"Angular", []string{"ng-version", "angular"}},
	{"HubSpot", []string{"hubspot", "hs-scripts"}},
	{"Salesforce", []string{"salesforce", "pardot"}},
	{"Google Analytics", []string{"google-analytics", "gtag"}},
	{"Google Tag Manager", []string{"googletagmanager"}},
	{"Stripe", []string{"stripe.com", "js.stripe"}},
	{"Intercom", []string{"intercom", "intercomsettings"}},
	{"Zendesk", []string{"zendesk", "zdassets"}},
}

// socialPatterns maps platforms to profile-URL patterns. The first match per
// platform is kept.
var socialPatterns = []struct {
	platform string
	re       *regexp.Regexp
}{
	{"linkedin", regexp.MustCompile(`(?i)https?://(?:www\.)?linkedin\.com/company/[\w-]+`)},
	{"twitter", regexp.MustCompile(`(?i)https?://(?:www\.)?(?:twitter|x)\.com/\w+`)},
	{"facebook", regexp.MustCompile(`(?i)https?://(?:www\.)?facebook\.com/[\w.]+`)},
	{"instagram", regexp.MustCompile(`(?i)https?://(?:www\.)?instagram\.com/[\w.]+`)},
	{"github", regexp.MustCompile(`(?i)https?://(?:www\.)?github\.com/[\w-]+`)},
}

// WebScraper fetches the lead's company site over HTTPS and extracts the page
// title, meta description, technology signals, and social profile links.
type WebScraper struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	scheme    string
}

// NewWebScraper creates a WebScraper with the given HTTP options.
func NewWebScraper(opts HTTPOptions) *WebScraper {
	opts = opts.withDefaults()
	return &WebScraper{
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(opts.ScrapeRPS), 1),
		userAgent: opts.UserAgent,
		scheme:    "https",
	}
}

func (w *WebScraper) Name() string { return "web_scraping" }

// Enrich issues a rate-limited GET to the domain's site, following redirects.
// Generic domains are skipped; transport errors and non-2xx statuses fail the
// provider (and only the provider).
func (w *WebScraper) Enrich(ctx context.Context, _ string, domain string, _ map[string]any) (map[string]any, error) {
	if IsGenericDomain(domain) {
		return nil, eris.Errorf("web_scraping: generic domain %s, skipping scrape", domain)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "web_scraping: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.scheme+"://"+domain, nil)
	if err != nil {
		return nil, eris.Wrap(err, "web_scraping: create request")
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "web_scraping: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("web_scraping: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "web_scraping: read body")
	}
	html := string(body)

	data := map[string]any{}

	if m := titleRe.FindStringSubmatch(html); m != nil {
		data["page_title"] = truncate(strings.TrimSpace(m[1]), maxTitleLen)
	}
	if m := metaDescRe.FindStringSubmatch(html); m != nil {
		data["meta_description"] = truncate(strings.TrimSpace(m[1]), maxDescLen)
	}

	htmlLower := strings.ToLower(html)
	technologies := []string{}
	for _, tech := range techSignals {
		for _, signal := range tech.signals {
			if strings.Contains(htmlLower, signal) {
				technologies = append(technologies, tech.name)
				break
			}
		}
	}
	data["technologies"] = technologies

	social := map[string]any{}
	for _, p := range socialPatterns {
		if m := p.re.FindString(html); m != "" {
			social[p.platform] = m
		}
	}
	if len(social) > 0 {
		data["social_links"] = social
	}

	data["website_status"] = resp.StatusCode
	data["final_url"] = resp.Request.URL.String()

	return data, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
