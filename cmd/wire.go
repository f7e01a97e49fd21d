package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/nurisoft/contractdesk/internal/cost"
	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/store"
	"github.com/nurisoft/contractdesk/pkg/anthropic"
)

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// buildOrchestrator assembles the extraction engines from config. The vision
// engine is only wired when an Anthropic key is present.
func buildOrchestrator() *extract.Orchestrator {
	var vision extract.Engine
	if cfg.Anthropic.Key != "" {
		rates := cost.DefaultRates()
		if len(cfg.Pricing.Anthropic) > 0 {
			rates = cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))}
			for m, p := range cfg.Pricing.Anthropic {
				rates.Anthropic[m] = cost.ModelRate{Input: p.Input, Output: p.Output}
			}
		}

		var limiter *rate.Limiter
		if cfg.Anthropic.RequestsPerSec > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Anthropic.RequestsPerSec), cfg.Anthropic.RequestBurst)
		}

		ve := extract.NewVisionEngine(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cost.NewCalculator(rates), limiter)
		ve.SetMaxTokens(int64(cfg.Anthropic.MaxTokens))
		vision = ve
	}

	orch := extract.NewOrchestrator(vision, extract.NewRegexEngine())
	if cfg.Anthropic.DisableFallback {
		orch.DisableFallback()
	}

	return orch
}
