package providers

// modelPricing is USD per million tokens.
type modelPricing struct {
	input  float64
	output float64
}

var anthropicPricing = map[string]modelPricing{
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
	"claude-3-opus-20240229":     {15.0, 75.0},
}

var openaiPricing = map[string]modelPricing{
	"gpt-4o":        {2.5, 10.0},
	"gpt-4o-mini":   {0.15, 0.6},
	"gpt-4-turbo":   {10.0, 30.0},
	"gpt-3.5-turbo": {0.5, 1.5},
}

// nvidiaPricing is a flat estimate; NVIDIA NIM does not publish
// per-model rates.
var nvidiaPricing = modelPricing{1.0, 3.0}

// estimateCost computes USD cost from per-million-token pricing.
func estimateCost(p modelPricing, usage Usage) float64 {
	return float64(usage.InputTokens)/1_000_000*p.input +
		float64(usage.OutputTokens)/1_000_000*p.output
}
