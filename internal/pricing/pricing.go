// Package pricing holds the static model price table used for playground
// cost estimation and settlement. Prices are USD per million tokens.
package pricing

import "strings"

// ModelPrice holds per-million-token USD prices for one model family.
type ModelPrice struct {
	InputPerMTok  float64 // USD per 1,000,000 input tokens.
	OutputPerMTok float64 // USD per 1,000,000 output tokens.
}

// DefaultFamily is applied when a model name matches no known family.
const DefaultFamily = "sonnet"

// priceTable maps model families to prices. Lookup is by
// case-insensitive substring so dated and versioned model names
// ("claude-sonnet-4-20250514", "GPT-4o-2024-08-06") resolve without
// table churn. Order matters: longer keys are matched first.
var priceTable = map[string]ModelPrice{
	"opus":        {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"sonnet":      {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"haiku":       {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":      {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4.1":     {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"o3-mini":     {InputPerMTok: 1.10, OutputPerMTok: 4.40},
}

// matchOrder lists families from most to least specific.
var matchOrder = []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1", "o3-mini", "opus", "sonnet", "haiku"}

// estimateInputShare is the assumed input fraction of a pre-call token
// estimate. Skewing toward input is conservative for pricing since
// output tokens cost more.
const estimateInputShare = 0.6

// Estimate is a pre-call cost projection based on a total token guess.
type Estimate struct {
	EstimatedCost float64 `json:"estimated_cost"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	Model         string  `json:"model"`
}

// Lookup resolves the price entry for a model name, falling back to the
// default family when the model is unrecognized.
func Lookup(model string) (string, ModelPrice) {
	normalized := strings.ToLower(strings.TrimSpace(model))
	for _, family := range matchOrder {
		if strings.Contains(normalized, family) {
			return family, priceTable[family]
		}
	}
	return DefaultFamily, priceTable[DefaultFamily]
}

// EstimateCost projects the USD cost of a request before it runs,
// splitting the token estimate 60% input / 40% output.
func EstimateCost(totalTokens int64, model string) Estimate {
	if totalTokens < 0 {
		totalTokens = 0
	}
	inputTokens := int64(float64(totalTokens) * estimateInputShare)
	outputTokens := totalTokens - inputTokens
	family, price := Lookup(model)
	cost := float64(inputTokens)/1_000_000*price.InputPerMTok +
		float64(outputTokens)/1_000_000*price.OutputPerMTok
	return Estimate{
		EstimatedCost: cost,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		Model:         family,
	}
}

// ActualCost computes the settled USD cost from provider-reported
// token counts.
func ActualCost(inputTokens, outputTokens int64, model string) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	_, price := Lookup(model)
	return float64(inputTokens)/1_000_000*price.InputPerMTok +
		float64(outputTokens)/1_000_000*price.OutputPerMTok
}
