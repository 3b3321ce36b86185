package enrich

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// cdnMarkers maps CDN providers to the response headers that identify them.
// Order matters: the first provider with any marker present wins and the
// scan stops.
var cdnMarkers = []struct {
	provider string
	headers  []string
}{
	{"cloudflare", []string{"Cf-Ray", "Cf-Cache-Status"}},
	{"aws_cloudfront", []string{"X-Amz-Cf-Id"}},
	{"fastly", []string{"X-Served-By"}},
	{"akamai", []string{"X-Akamai-Transformed"}},
	{"vercel", []string{"X-Vercel-Id"}},
	{"netlify", []string{"X-Nf-Request-Id"}},
}

// HeaderFingerprinter probes the domain with a HEAD request and reads
// infrastructure signals from the response headers: web server, CDN,
// TLS, and round-trip latency.
type HeaderFingerprinter struct {
	client    *http.Client
	userAgent string
	scheme    string
}

// NewHeaderFingerprinter creates a HeaderFingerprinter with the given options.
func NewHeaderFingerprinter(opts HTTPOptions) *HeaderFingerprinter {
	opts = opts.withDefaults()
	return &HeaderFingerprinter{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		scheme:    "https",
	}
}

func (h *HeaderFingerprinter) Name() string { return "header_fingerprint" }

// Enrich issues a HEAD request to the domain, following redirects. Generic
// domains are skipped; transport errors and non-2xx statuses fail the
// provider.
func (h *HeaderFingerprinter) Enrich(ctx context.Context, _ string, domain string, _ map[string]any) (map[string]any, error) {
	if IsGenericDomain(domain) {
		return nil, eris.Errorf("header_fingerprint: generic domain %s, skipping probe", domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.scheme+"://"+domain, nil)
	if err != nil {
		return nil, eris.Wrap(err, "header_fingerprint: create request")
	}
	req.Header.Set("User-Agent", h.userAgent)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "header_fingerprint: fetch")
	}
	elapsed := time.Since(start)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("header_fingerprint: status %d", resp.StatusCode)
	}

	data := map[string]any{}

	if server := resp.Header.Get("Server"); server != "" {
		data["web_server"] = server
	}

	for _, cdn := range cdnMarkers {
		found := false
		for _, name := range cdn.headers {
			if resp.Header.Get(name) != "" {
				found = true
				break
			}
		}
		if found {
			data["cdn"] = cdn.provider
			break
		}
	}

	data["has_ssl"] = resp.Request.URL.Scheme == "https"
	data["response_time_ms"] = float64(elapsed) / float64(time.Millisecond)

	return data, nil
}
