package cost

import (
	"math"
	"sync"
	"testing"
)

func TestGetPricing_ExactMatch(t *testing.T) {
	calc := NewCalculator()

	pricing, ok := calc.GetPricing("gpt-4o-mini")
	if !ok {
		t.Fatal("expected to find pricing")
	}
	if pricing.InputPer1M != 0.15 {
		t.Errorf("expected InputPer1M=0.15, got %f", pricing.InputPer1M)
	}
}

func TestGetPricing_PrefixMatchPrefersLongest(t *testing.T) {
	calc := &Calculator{pricing: make(map[string]ModelPricing)}
	calc.AddPricing(ModelPricing{Model: "test-model", InputPer1M: 30.0})
	calc.AddPricing(ModelPricing{Model: "test-model-pro", InputPer1M: 2.5})

	pricing, ok := calc.GetPricing("test-model-pro-v2")
	if !ok {
		t.Fatal("expected to find pricing")
	}
	if pricing.InputPer1M != 2.5 {
		t.Errorf("expected test-model-pro pricing (2.5), got %f", pricing.InputPer1M)
	}
}

func TestGetPricing_BedrockVersionedID(t *testing.T) {
	calc := NewCalculator()

	pricing, ok := calc.GetPricing("anthropic.claude-3-5-haiku-20241022-v1:0")
	if !ok {
		t.Fatal("expected versioned bedrock id to match its family")
	}
	if pricing.Model != "anthropic.claude-3-5-haiku" {
		t.Errorf("matched %q", pricing.Model)
	}
}

func TestGetPricing_NotFound(t *testing.T) {
	if _, ok := NewCalculator().GetPricing("nonexistent-model"); ok {
		t.Error("expected not to find pricing")
	}
}

func TestCalculate(t *testing.T) {
	calc := NewCalculator()
	calc.AddPricing(ModelPricing{Model: "house-model", InputPer1M: 1.0, OutputPer1M: 2.0})

	cost, err := calc.Calculate(Usage{Model: "house-model", InputTokens: 500_000, OutputTokens: 250_000})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if math.Abs(cost.TotalCost-1.0) > 1e-9 {
		t.Errorf("TotalCost = %f, want 1.0", cost.TotalCost)
	}

	if _, err := calc.Calculate(Usage{Model: "unknown"}); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestCalculator_ConcurrentAccess(t *testing.T) {
	calc := NewCalculator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = calc.GetPricing("gpt-4o")
		}()
		go func(id int) {
			defer wg.Done()
			calc.AddPricing(ModelPricing{Model: "concurrent-model", InputPer1M: float64(id)})
		}(i)
	}
	wg.Wait()

	if p, _ := calc.GetPricing("gpt-4o"); p.InputPer1M != 2.5 {
		t.Errorf("gpt-4o pricing changed: %f", p.InputPer1M)
	}
}
