// Package cost maps token usage and a static per-model pricing table to a
// monetary breakdown. Calculation is pure: identical inputs always yield
// identical results, and an unknown model yields a sentinel "unavailable"
// breakdown instead of an error so a pricing-table gap never aborts a
// workflow.
package cost

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kanba-ai/kanba/pkg/llms"
)

// DefaultPrecision is the number of decimal places monetary values are
// rounded to.
const DefaultPrecision = 4

// ModelPricing holds per-million-token prices for one model.
type ModelPricing struct {
	ModelCode          string `yaml:"model_code" json:"modelCode"`
	Provider           string `yaml:"provider" json:"provider"`
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok" json:"inputPricePerMTok"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok" json:"outputPricePerMTok"`
}

// PricingTable maps model codes to their pricing.
type PricingTable map[string]ModelPricing

// DefaultPricing returns the built-in pricing table. Prices are USD per
// million tokens.
func DefaultPricing() PricingTable {
	entries := []ModelPricing{
		{ModelCode: "gpt-4o", Provider: "openai", InputPricePerMTok: 2.50, OutputPricePerMTok: 10.00},
		{ModelCode: "gpt-4o-mini", Provider: "openai", InputPricePerMTok: 0.15, OutputPricePerMTok: 0.60},
		{ModelCode: "gpt-4-turbo", Provider: "openai", InputPricePerMTok: 10.00, OutputPricePerMTok: 30.00},
		{ModelCode: "o1-mini", Provider: "openai", InputPricePerMTok: 3.00, OutputPricePerMTok: 12.00},
		{ModelCode: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPricePerMTok: 3.00, OutputPricePerMTok: 15.00},
		{ModelCode: "claude-3-5-haiku-20241022", Provider: "anthropic", InputPricePerMTok: 0.80, OutputPricePerMTok: 4.00},
		{ModelCode: "claude-3-opus-20240229", Provider: "anthropic", InputPricePerMTok: 15.00, OutputPricePerMTok: 75.00},
		{ModelCode: "gemini-1.5-pro", Provider: "google", InputPricePerMTok: 1.25, OutputPricePerMTok: 5.00},
		{ModelCode: "gemini-1.5-flash", Provider: "google", InputPricePerMTok: 0.075, OutputPricePerMTok: 0.30},
		{ModelCode: "mistral-large-latest", Provider: "mistral", InputPricePerMTok: 2.00, OutputPricePerMTok: 6.00},
		{ModelCode: "open-mistral-nemo", Provider: "mistral", InputPricePerMTok: 0.15, OutputPricePerMTok: 0.15},
		{ModelCode: "llama-3.1-70b-versatile", Provider: "groq", InputPricePerMTok: 0.59, OutputPricePerMTok: 0.79},
		{ModelCode: "llama-3.1-8b-instant", Provider: "groq", InputPricePerMTok: 0.05, OutputPricePerMTok: 0.08},
	}
	table := make(PricingTable, len(entries))
	for _, e := range entries {
		table[e.ModelCode] = e
	}
	return table
}

// TokenCost pairs a token count with its monetary cost.
type TokenCost struct {
	Count int     `json:"count"`
	Cost  float64 `json:"cost"`
}

// Breakdown splits a cost into prompt and completion parts.
type Breakdown struct {
	PromptTokens     TokenCost `json:"promptTokens"`
	CompletionTokens TokenCost `json:"completionTokens"`
}

// Details is a derived monetary breakdown. It is never stored
// authoritatively; it is recomputed from token counts and the pricing table.
type Details struct {
	InputCost  float64   `json:"inputCost"`
	OutputCost float64   `json:"outputCost"`
	TotalCost  float64   `json:"totalCost"`
	Currency   string    `json:"currency"`
	Breakdown  Breakdown `json:"breakdown"`
}

// Unavailable reports whether the details are the unknown-model sentinel.
func (d Details) Unavailable() bool { return d.TotalCost < 0 }

// UnavailableDetails returns the sentinel breakdown for models missing from
// the pricing table: all costs -1, token counts preserved.
func UnavailableDetails(usage llms.UsageStats) Details {
	return Details{
		InputCost:  -1,
		OutputCost: -1,
		TotalCost:  -1,
		Currency:   "USD",
		Breakdown: Breakdown{
			PromptTokens:     TokenCost{Count: usage.InputTokens, Cost: -1},
			CompletionTokens: TokenCost{Count: usage.OutputTokens, Cost: -1},
		},
	}
}

// CalculateTaskCost computes the cost of one task's LLM usage for a model.
func CalculateTaskCost(modelCode string, usage llms.UsageStats, table PricingTable) Details {
	pricing, ok := table[modelCode]
	if !ok {
		return UnavailableDetails(usage)
	}

	inputCost := Round(float64(usage.InputTokens)/1_000_000*pricing.InputPricePerMTok, DefaultPrecision)
	outputCost := Round(float64(usage.OutputTokens)/1_000_000*pricing.OutputPricePerMTok, DefaultPrecision)

	return Details{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  Round(inputCost+outputCost, DefaultPrecision),
		Currency:   "USD",
		Breakdown: Breakdown{
			PromptTokens:     TokenCost{Count: usage.InputTokens, Cost: inputCost},
			CompletionTokens: TokenCost{Count: usage.OutputTokens, Cost: outputCost},
		},
	}
}

// CalculateWorkflowCost rolls up per-model usage into one breakdown. Any
// model missing from the table makes the whole rollup unavailable rather
// than silently under-reporting.
func CalculateWorkflowCost(modelUsage map[string]llms.UsageStats, table PricingTable) Details {
	var total llms.UsageStats
	var inputCost, outputCost float64

	for modelCode, usage := range modelUsage {
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		pricing, ok := table[modelCode]
		if !ok {
			return UnavailableDetails(total)
		}
		inputCost += float64(usage.InputTokens) / 1_000_000 * pricing.InputPricePerMTok
		outputCost += float64(usage.OutputTokens) / 1_000_000 * pricing.OutputPricePerMTok
	}

	inputCost = Round(inputCost, DefaultPrecision)
	outputCost = Round(outputCost, DefaultPrecision)

	return Details{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  Round(inputCost+outputCost, DefaultPrecision),
		Currency:   "USD",
		Breakdown: Breakdown{
			PromptTokens:     TokenCost{Count: total.InputTokens, Cost: inputCost},
			CompletionTokens: TokenCost{Count: total.OutputTokens, Cost: outputCost},
		},
	}
}

// Round rounds half away from zero at the given decimal precision using
// fixed-point truncation.
func Round(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Trunc(v*scale+math.Copysign(0.5, v)) / scale
}

// FormatCost renders a monetary value as "$X.XXXX". The unknown-model
// sentinel renders as "unavailable".
func FormatCost(v float64) string {
	if v < 0 {
		return "unavailable"
	}
	return "$" + strconv.FormatFloat(Round(v, DefaultPrecision), 'f', DefaultPrecision, 64)
}

// ParseCost parses a string produced by FormatCost back to its value.
func ParseCost(s string) (float64, error) {
	if s == "unavailable" {
		return -1, nil
	}
	trimmed := strings.TrimPrefix(s, "$")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cost string %q: %w", s, err)
	}
	return v, nil
}
