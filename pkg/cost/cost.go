// Package cost turns provider-reported token counts into money.
package cost

import (
	"math"
	"strconv"
)

// Rates is a model's price per single token, in USD.
type Rates struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Breakdown is the cost of one request.
type Breakdown struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// Estimate computes the cost of a request. The result is linear in both token
// counts and is not rounded.
func Estimate(inputTokens, outputTokens int, r Rates) Breakdown {
	in := float64(inputTokens) * r.Input
	out := float64(outputTokens) * r.Output

	return Breakdown{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
	}
}

// PerMillion converts an advertised USD-per-million-tokens rate to a
// per-token rate.
func PerMillion(usd float64) float64 {
	return usd / 1_000_000
}

// Format renders an amount with a fixed number of decimal places for display.
// A negative decimals value falls back to 6.
func Format(amount float64, decimals int) string {
	if decimals < 0 {
		decimals = 6
	}
	return "$" + strconv.FormatFloat(amount, 'f', decimals, 64)
}

// FormatRate renders a per-token rate as USD per million tokens with as many
// decimals as the rate needs, so $0.075/M does not collapse to $0.07.
func FormatRate(perToken float64) string {
	perMillion := math.Round(perToken*1_000_000*1e9) / 1e9
	return "$" + strconv.FormatFloat(perMillion, 'f', -1, 64)
}
