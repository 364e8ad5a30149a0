// Package cost estimates the USD cost of model calls from reported token
// usage.
package cost

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ModelPricing holds per-million-token prices for a model or model prefix.
type ModelPricing struct {
	Model       string  `yaml:"model"`
	InputPer1M  float64 `yaml:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m"`
}

// Usage represents token usage for a single LLM call
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Cost represents the calculated cost for LLM usage
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// Calculator provides cost calculation for LLM usage
type Calculator struct {
	pricing map[string]ModelPricing
	mu      sync.RWMutex
}

// NewCalculator creates a calculator seeded with list prices for the
// models the assistant ships adapters for.
func NewCalculator() *Calculator {
	c := &Calculator{pricing: make(map[string]ModelPricing)}
	for _, p := range defaultPricing {
		c.pricing[p.Model] = p
	}
	return c
}

// Bedrock ids carry a vendor prefix and a version suffix; prefix matching
// covers both.
var defaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0},
	{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60},
	{Model: "gpt-4.1", InputPer1M: 2.0, OutputPer1M: 8.0},
	{Model: "gpt-4.1-mini", InputPer1M: 0.4, OutputPer1M: 1.6},
	{Model: "gemini-2.5-flash", InputPer1M: 0.3, OutputPer1M: 2.5},
	{Model: "gemini-2.5-pro", InputPer1M: 1.25, OutputPer1M: 10.0},
	{Model: "anthropic.claude-3-5-haiku", InputPer1M: 0.8, OutputPer1M: 4.0},
	{Model: "anthropic.claude-3-5-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0},
	{Model: "amazon.nova-lite", InputPer1M: 0.06, OutputPer1M: 0.24},
}

// AddPricing adds or replaces pricing for a model
func (c *Calculator) AddPricing(p ModelPricing) {
	if p.Model == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[p.Model] = p
}

// GetPricing looks model up exactly, then by longest matching prefix.
func (c *Calculator) GetPricing(model string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.pricing[model]; ok {
		return p, true
	}

	keys := make([]string, 0, len(c.pricing))
	for k := range c.pricing {
		if strings.HasPrefix(model, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ModelPricing{}, false
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return c.pricing[keys[0]], true
}

// Calculate computes the cost for the given usage
func (c *Calculator) Calculate(usage Usage) (Cost, error) {
	pricing, ok := c.GetPricing(usage.Model)
	if !ok {
		return Cost{}, fmt.Errorf("no pricing found for model: %s", usage.Model)
	}

	var cost Cost
	if usage.InputTokens > 0 {
		cost.InputCost = float64(usage.InputTokens) / 1_000_000 * pricing.InputPer1M
	}
	if usage.OutputTokens > 0 {
		cost.OutputCost = float64(usage.OutputTokens) / 1_000_000 * pricing.OutputPer1M
	}
	cost.TotalCost = cost.InputCost + cost.OutputCost
	return cost, nil
}
