package enrich

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadforge/internal/cache"
)

// Service sequences the enrichment providers, merges their outputs, and
// consults the domain-level cache. Providers run strictly in order; a later
// provider's keys overwrite an earlier provider's on conflict.
type Service struct {
	providers []Provider
	email     Provider // re-run fresh on cache hits; its output is per-lead
	cache     *cache.Store
	ttl       time.Duration
}

// NewService creates a Service with the standard provider sequence: email
// analysis, web scraping, header fingerprinting. cacheStore may be nil to
// disable caching entirely.
func NewService(cacheStore *cache.Store, opts HTTPOptions) *Service {
	email := NewEmailAnalyzer()
	return &Service{
		providers: []Provider{email, NewWebScraper(opts), NewHeaderFingerprinter(opts)},
		email:     email,
		cache:     cacheStore,
		ttl:       cache.EnrichmentTTL,
	}
}

// WithCacheTTL overrides the cache lifetime for consolidated results.
// Non-positive values keep the default.
func (s *Service) WithCacheTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Enrich runs the pipeline for one lead email and returns the consolidated
// result. Domain-level data is served from cache within the TTL window;
// email-derived signals are always recomputed fresh. Cache reads and writes
// are best-effort and never fail the enrichment.
func (s *Service) Enrich(ctx context.Context, email string) (*Consolidated, error) {
	domain, err := Domain(email)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("domain", domain))

	if s.cache != nil && !IsGenericDomain(domain) {
		if data := s.cache.Get(ctx, cache.PrefixEnrichment, domain); data != nil {
			var cached Consolidated
			if err := json.Unmarshal(data, &cached); err != nil {
				log.Warn("enrich: corrupt cache entry, running full pipeline", zap.Error(err))
			} else {
				log.Debug("enrich: serving from cache")
				return s.refresh(ctx, email, domain, &cached), nil
			}
		}
	}

	result := s.run(ctx, email, domain)

	if s.cache != nil && !IsGenericDomain(domain) {
		s.cache.Set(ctx, cache.PrefixEnrichment, domain, result, s.ttl)
	}

	return result, nil
}

// run executes the full provider sequence.
func (s *Service) run(ctx context.Context, email, domain string) *Consolidated {
	consolidated := map[string]any{}
	results := make([]Result, 0, len(s.providers))
	successful := 0

	for _, p := range s.providers {
		res := safeEnrich(ctx, p, email, domain, consolidated)
		results = append(results, res)

		if res.Success {
			for k, v := range res.Data {
				consolidated[k] = v
			}
			successful++
			zap.L().Debug("enrich: provider succeeded", zap.String("provider", p.Name()))
		} else {
			zap.L().Debug("enrich: provider failed",
				zap.String("provider", p.Name()),
				zap.String("error", res.Error),
			)
		}
	}

	return &Consolidated{
		ProviderResults: results,
		Consolidated:    consolidated,
		Stats: Stats{
			TotalProviders: len(s.providers),
			Successful:     successful,
			Failed:         len(s.providers) - successful,
		},
	}
}

// refresh re-runs only the email analyzer over a cached domain entry: the
// email-derived fields vary per lead even within one domain, while the
// scraped fields are reused as cached. The cached provider_results and stats
// are returned verbatim and do not reflect the fresh email-analysis call,
// matching the established result shape.
func (s *Service) refresh(ctx context.Context, email, domain string, cached *Consolidated) *Consolidated {
	merged := make(map[string]any, len(cached.Consolidated))
	for k, v := range cached.Consolidated {
		merged[k] = v
	}

	fresh := safeEnrich(ctx, s.email, email, domain, merged)
	if fresh.Success {
		for k, v := range fresh.Data {
			merged[k] = v
		}
	}

	return &Consolidated{
		ProviderResults: cached.ProviderResults,
		Consolidated:    merged,
		Stats:           cached.Stats,
		FromCache:       true,
	}
}
