// Package enrich implements the lead enrichment pipeline: a fixed sequence of
// data-gathering providers whose outputs are merged into one consolidated
// result per lead, with domain-level caching.
package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a single provider invocation.
type Result struct {
	Provider string         `json:"provider"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Stats summarizes a full provider run.
type Stats struct {
	TotalProviders int `json:"total_providers"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
}

// Consolidated is the merged output of one enrichment run. It is written
// onto the lead record and cached per domain.
type Consolidated struct {
	ProviderResults []Result       `json:"provider_results"`
	Consolidated    map[string]any `json:"consolidated"`
	Stats           Stats          `json:"stats"`
	FromCache       bool           `json:"from_cache"`
}

// Provider gathers one category of enrichment data for a lead.
// acc holds the merged output of all providers executed so far, letting a
// later provider skip work an earlier one already did.
type Provider interface {
	Name() string
	Enrich(ctx context.Context, email, domain string, acc map[string]any) (map[string]any, error)
}

// HTTPOptions configures the network-backed providers.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
	ScrapeRPS float64
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; LeadForge/1.0)"
	}
	if o.ScrapeRPS <= 0 {
		o.ScrapeRPS = 5
	}
	return o
}

// safeEnrich invokes a provider and converts any error or panic into the
// failure variant of Result. This is the only place providers are called, so
// a misbehaving provider can never abort the pipeline.
func safeEnrich(ctx context.Context, p Provider, email, domain string, acc map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("enrich: provider panicked",
				zap.String("provider", p.Name()),
				zap.Any("panic", r),
			)
			res = Result{Provider: p.Name(), Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	data, err := p.Enrich(ctx, email, domain, acc)
	if err != nil {
		return Result{Provider: p.Name(), Error: err.Error()}
	}
	return Result{Provider: p.Name(), Success: true, Data: data}
}
