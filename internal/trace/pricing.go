package trace

import "strings"

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// Published list prices, matched by longest model prefix. Unknown models
// fall back to a conservative default so spend is never undercounted to zero.
var modelPrices = map[string]price{
	// OpenAI
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4o":        {2.50, 10.00},
	"gpt-4.1-mini":  {0.40, 1.60},
	"gpt-4.1-nano":  {0.10, 0.40},
	"gpt-4.1":       {2.00, 8.00},
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-3.5-turbo": {0.50, 1.50},
	"o1-mini":       {1.10, 4.40},
	"o1":            {15.00, 60.00},
	"o3-mini":       {1.10, 4.40},
	"o3":            {2.00, 8.00},
	"o4-mini":       {1.10, 4.40},

	// Anthropic
	"claude-3-5-haiku":  {0.80, 4.00},
	"claude-3-5-sonnet": {3.00, 15.00},
	"claude-3-haiku":    {0.25, 1.25},
	"claude-3-opus":     {15.00, 75.00},
	"claude-haiku-4":    {1.00, 5.00},
	"claude-sonnet-4":   {3.00, 15.00},
	"claude-opus-4":     {15.00, 75.00},

	// Gemini
	"gemini-2.0-flash-lite": {0.075, 0.30},
	"gemini-2.0-flash":      {0.10, 0.40},
	"gemini-1.5-flash":      {0.075, 0.30},
	"gemini-1.5-pro":        {1.25, 5.00},
	"gemini-2.5-flash":      {0.30, 2.50},
	"gemini-2.5-pro":        {1.25, 10.00},

	// Mistral
	"mistral-small": {0.10, 0.30},
	"mistral-large": {2.00, 6.00},
	"ministral-3b":  {0.04, 0.04},
	"ministral-8b":  {0.10, 0.10},
	"codestral":     {0.30, 0.90},
	"open-mistral":  {0.15, 0.15},
}

var defaultPrice = price{1.00, 3.00}

// EstimateCost returns the estimated USD cost of one request.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p := defaultPrice

	m := strings.ToLower(model)
	best := 0
	for prefix, pr := range modelPrices {
		if strings.HasPrefix(m, prefix) && len(prefix) > best {
			p = pr
			best = len(prefix)
		}
	}

	return float64(inputTokens)/1e6*p.input + float64(outputTokens)/1e6*p.output
}
