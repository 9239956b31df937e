package runner

import "strings"

// priceTable holds USD per 1k tokens by model. Unknown models fall back to
// FallbackPricePer1K.
const FallbackPricePer1K = 0.01

var priceTable = map[string]float64{
	"gpt-4o":                  0.0050,
	"gpt-4o-mini":             0.0006,
	"gpt-4-turbo":             0.0100,
	"gpt-3.5-turbo":           0.0010,
	"claude-3-5-sonnet":       0.0090,
	"claude-3-opus":           0.0450,
	"claude-3-haiku":          0.0008,
	"gemini-1.5-pro":          0.0035,
	"gemini-1.5-flash":        0.0003,
	"mock-model":              0.0010,
}

// PricePer1K returns the per-1k-token price for a model. Versioned model
// names (claude-3-5-sonnet-20241022, gpt-4o-2024-08-06) match their base
// entry by prefix.
func PricePer1K(model string) float64 {
	if p, ok := priceTable[model]; ok {
		return p
	}
	for base, p := range priceTable {
		if strings.HasPrefix(model, base) {
			return p
		}
	}
	return FallbackPricePer1K
}

// Cost prices a call from its total token count.
func Cost(model string, totalTokens int) float64 {
	return float64(totalTokens) / 1000 * PricePer1K(model)
}
