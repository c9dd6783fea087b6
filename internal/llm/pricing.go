package llm

import "strings"

// Pricing is USD per one million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var pricingTable = map[string]Pricing{
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4-turbo":       {InputPerMTok: 10.00, OutputPerMTok: 30.00},
	"gpt-3.5-turbo":     {InputPerMTok: 0.50, OutputPerMTok: 1.50},
	"o1":                {InputPerMTok: 15.00, OutputPerMTok: 60.00},
	"o1-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"o3-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-opus":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
}

// Cost computes input/output USD cost for a call. Unknown models (local
// Ollama models included) cost nothing; known models match on the longest
// identifier prefix so dated variants price like their base model.
func Cost(model string, inputTokens, outputTokens int) (float64, float64) {
	pricing, ok := pricingTable[model]
	if !ok {
		best := ""
		for prefix := range pricingTable {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best == "" {
			return 0, 0
		}
		pricing = pricingTable[best]
	}
	inputCost := float64(inputTokens) / 1e6 * pricing.InputPerMTok
	outputCost := float64(outputTokens) / 1e6 * pricing.OutputPerMTok
	return inputCost, outputCost
}
