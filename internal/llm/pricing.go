package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultPricingURL serves a community-maintained price table for the
// major vendors, per 1M tokens.
const DefaultPricingURL = "https://www.llm-prices.com/current-v1.json"

const pricingCacheTTL = 24 * time.Hour

// PricingCache persists a fetched price table between runs.
type PricingCache interface {
	LoadPricing() (raw []byte, fetchedAt time.Time, err error)
	SavePricing(raw []byte) error
}

type modelPrice struct {
	ID     string  `json:"id"`
	Vendor string  `json:"vendor"`
	Name   string  `json:"name"`
	Input  float64 `json:"input"`  // USD per 1M input tokens
	Output float64 `json:"output"` // USD per 1M output tokens
}

type priceTable struct {
	UpdatedAt string       `json:"updated_at"`
	Prices    []modelPrice `json:"prices"`
}

// Pricing resolves model ids to costs. Until Initialize succeeds every
// lookup reports "unknown", which callers must keep distinct from zero.
type Pricing struct {
	url    string
	client *http.Client
	cache  PricingCache
	log    *slog.Logger

	mu          sync.RWMutex
	prices      map[string]modelPrice
	initialized bool
}

// NewPricing builds a pricing service. cache may be nil (no persistence).
func NewPricing(client *http.Client, cache PricingCache, logger *slog.Logger) *Pricing {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pricing{url: DefaultPricingURL, client: client, cache: cache, log: logger}
}

// Initialize loads the price table, preferring a cache entry younger than
// 24h, then fetching. Idempotent.
func (p *Pricing) Initialize(ctx context.Context) error {
	p.mu.RLock()
	done := p.initialized
	p.mu.RUnlock()
	if done {
		return nil
	}

	if p.cache != nil {
		if raw, fetchedAt, err := p.cache.LoadPricing(); err == nil && len(raw) > 0 &&
			time.Since(fetchedAt) < pricingCacheTTL {
			if err := p.setPrices(raw); err == nil {
				return nil
			}
		}
	}

	raw, _, err := GetJSON(ctx, p.client, p.url, nil, p.log)
	if err != nil {
		return fmt.Errorf("fetch pricing data: %w", err)
	}
	if err := p.setPrices(raw); err != nil {
		return err
	}
	if p.cache != nil {
		if err := p.cache.SavePricing(raw); err != nil {
			p.log.Warn("pricing.cache_save_failed", "error", err)
		}
	}
	return nil
}

func (p *Pricing) setPrices(raw []byte) error {
	var table priceTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("decode pricing data: %w", err)
	}
	if len(table.Prices) == 0 {
		return fmt.Errorf("pricing data has no entries")
	}
	prices := make(map[string]modelPrice, len(table.Prices))
	for _, mp := range table.Prices {
		prices[mp.ID] = mp
	}
	p.mu.Lock()
	p.prices = prices
	p.initialized = true
	p.mu.Unlock()
	p.log.Debug("pricing.loaded", "models", len(prices), "updated_at", table.UpdatedAt)
	return nil
}

// Model ids in this tool vs. ids in the price table differ for a few
// vendors (date-suffixed Anthropic ids, preview aliases).
var pricingAliases = map[string]string{
	"claude-3-5-sonnet-20240620": "claude-3.5-sonnet",
	"claude-3-opus-20240229":     "claude-3-opus",
	"claude-3-sonnet-20240229":   "claude-3-sonnet",
	"claude-3-haiku-20240307":    "claude-3-haiku",
	"gpt-4-turbo-preview":        "gpt-4-turbo",
	"grok-vision-beta":           "grok-2-vision-1212",
}

// Cost returns the USD cost for a call, or ok=false when the model has no
// known price. Unknown is never reported as zero.
func (p *Pricing) Cost(modelID string, inputTokens, outputTokens int) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return 0, false
	}
	price, ok := p.prices[modelID]
	if !ok {
		if alias, aliased := pricingAliases[modelID]; aliased {
			price, ok = p.prices[alias]
		}
	}
	if !ok {
		return 0, false
	}
	in := float64(inputTokens) / 1_000_000 * price.Input
	out := float64(outputTokens) / 1_000_000 * price.Output
	return in + out, true
}
