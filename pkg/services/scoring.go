package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"reorder-api/pkg/models"
)

// Recency ratio boundaries (days since last purchase / average interval)
const (
	recencyLowRatio      = 0.5
	recencySoonRatio     = 0.7
	recencyDueRatio      = 0.9
	recencyOverdueRatio  = 1.2
	recencyOverdueFloor  = 40.0
	recencyOverdueDecay  = 0.5
	consistentQuantityCV = 0.3
)

// Reasoning thresholds on total purchases
const (
	frequentPurchases = 10
	regularPurchases  = 5
)

// DefaultReasoning is used when no factor stands out.
const DefaultReasoning = "occasional purchase"

// ItemScorer scores a purchase pattern on frequency, recency and quantity consistency.
type ItemScorer struct {
	weights models.Weights
}

// NewItemScorer creates a scorer. Weights are used as given; callers validate them.
func NewItemScorer(weights models.Weights) *ItemScorer {
	return &ItemScorer{weights: weights}
}

// Weights returns the scorer's weights.
func (s *ItemScorer) Weights() models.Weights {
	return s.weights
}

// ScoreItem computes the weighted score, reasoning and suggested quantity for one pattern.
func (s *ItemScorer) ScoreItem(pattern models.ItemPattern, now time.Time) models.Recommendation {
	daysSince := daysBetween(pattern.LastPurchase, now)
	ratio := recencyRatio(daysSince, pattern.AvgIntervalDays)

	frequencyScore := FrequencyScore(pattern.TotalPurchases)
	recencyScore := RecencyScore(ratio)
	quantityScore := QuantityScore(pattern.Quantities)

	total := frequencyScore*s.weights.Frequency +
		recencyScore*s.weights.Recency +
		quantityScore*s.weights.Quantity

	return models.Recommendation{
		ItemID:            pattern.ItemID,
		ItemName:          pattern.ItemName,
		Score:             clamp(total, 0, 100),
		FrequencyScore:    frequencyScore,
		RecencyScore:      recencyScore,
		QuantityScore:     quantityScore,
		Reasoning:         buildReasoning(pattern, daysSince, ratio),
		SuggestedQuantity: SuggestedQuantity(pattern.Quantities),
		Pattern:           pattern,
	}
}

// FrequencyScore uses a log scale: 2 purchases ≈ 23.9, 10 ≈ 52.1, capped at 100.
func FrequencyScore(totalPurchases int) float64 {
	if totalPurchases <= 0 {
		return 0
	}
	return math.Min(100, math.Log10(float64(totalPurchases)+1)*50)
}

// RecencyScore maps the recency ratio to [0,100].
//
//	ratio < 0.5        0 → 50   bought too recently
//	0.5 ≤ ratio < 0.9  50 → 90  getting close
//	0.9 ≤ ratio ≤ 1.2  90 → 100 due now
//	ratio > 1.2        100 → 40 overdue, decaying towards the floor
func RecencyScore(ratio float64) float64 {
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	switch {
	case ratio < recencyLowRatio:
		return 100 * ratio
	case ratio < recencyDueRatio:
		return 50 + (ratio-recencyLowRatio)*100
	case ratio <= recencyOverdueRatio:
		return 90 + (ratio-recencyDueRatio)*100/3
	default:
		decay := math.Exp(-recencyOverdueDecay * (ratio - recencyOverdueRatio))
		return recencyOverdueFloor + (100-recencyOverdueFloor)*decay
	}
}

// QuantityScore rewards consistent order sizes: CV 0 → 100, CV 1 → 50, CV ≥ 2 → 0.
// A single observation counts as perfectly consistent.
func QuantityScore(quantities []int) float64 {
	cv, ok := coefficientOfVariation(intsToFloats(quantities))
	if !ok {
		return 100
	}
	return clamp(100-cv*50, 0, 100)
}

// SuggestedQuantity is the rounded mean quantity, at least 1.
func SuggestedQuantity(quantities []int) int {
	q := int(math.Round(calculateMean(intsToFloats(quantities))))
	if q < 1 {
		return 1
	}
	return q
}

func recencyRatio(daysSince int, avgInterval float64) float64 {
	if avgInterval <= 0 {
		return math.NaN()
	}
	ratio := float64(daysSince) / avgInterval
	if ratio < 0 {
		return 0
	}
	return ratio
}

func buildReasoning(pattern models.ItemPattern, daysSince int, ratio float64) string {
	var reasons []string

	switch {
	case pattern.TotalPurchases >= frequentPurchases:
		reasons = append(reasons, fmt.Sprintf("frequently purchased (%dx)", pattern.TotalPurchases))
	case pattern.TotalPurchases >= regularPurchases:
		reasons = append(reasons, fmt.Sprintf("regularly purchased (%dx)", pattern.TotalPurchases))
	}

	if !math.IsNaN(ratio) {
		switch {
		case ratio > recencyOverdueRatio:
			overdue := int(math.Floor(float64(daysSince) - pattern.AvgIntervalDays))
			reasons = append(reasons, fmt.Sprintf("overdue by %d days", overdue))
		case ratio >= recencyDueRatio:
			reasons = append(reasons, "due for reorder")
		case ratio >= recencySoonRatio:
			reasons = append(reasons, "will need soon")
		}
	}

	quantities := intsToFloats(pattern.Quantities)
	cv, ok := coefficientOfVariation(quantities)
	if len(quantities) > 0 && (!ok || cv < consistentQuantityCV) {
		reasons = append(reasons, fmt.Sprintf("consistent quantity (~%d)", SuggestedQuantity(pattern.Quantities)))
	}

	if len(reasons) == 0 {
		return DefaultReasoning
	}
	return strings.Join(reasons, ", ")
}
