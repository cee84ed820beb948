package cost

import (
	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds pricing per provider, keyed by model id.
type Rates map[model.ProviderName]map[string]ModelRate

// Calculator computes the USD cost of vision calls.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Vision returns the cost of a single call. Unknown providers or models cost
// nothing, and the result is never negative.
func (c *Calculator) Vision(provider model.ProviderName, modelID string, input, output int64) float64 {
	rate, ok := c.rates[provider][modelID]
	if !ok {
		return 0
	}
	cost := (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
	if cost < 0 {
		return 0
	}
	return cost
}

// Known reports whether a rate exists for the provider and model.
func (c *Calculator) Known(provider model.ProviderName, modelID string) bool {
	_, ok := c.rates[provider][modelID]
	return ok
}

// DefaultRates returns list prices for the default models.
func DefaultRates() Rates {
	return Rates{
		model.ProviderClaude: {
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		model.ProviderOpenAI: {
			"gpt-4o":      {Input: 2.50, Output: 10.00},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
		},
		model.ProviderGemini: {
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
		},
	}
}

// RatesFromConfig overlays configured pricing on the defaults.
func RatesFromConfig(cfg config.PricingConfig) Rates {
	rates := DefaultRates()
	overlay := func(p model.ProviderName, m map[string]config.ModelPricing) {
		for id, mp := range m {
			if rates[p] == nil {
				rates[p] = make(map[string]ModelRate)
			}
			rates[p][id] = ModelRate{Input: mp.Input, Output: mp.Output}
		}
	}
	overlay(model.ProviderClaude, cfg.Anthropic)
	overlay(model.ProviderOpenAI, cfg.OpenAI)
	overlay(model.ProviderGemini, cfg.Gemini)
	return rates
}
