package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-api/pkg/models"
)

func TestFrequencyScore(t *testing.T) {
	assert.InDelta(t, 23.86, FrequencyScore(2), 0.01)
	assert.InDelta(t, 34.95, FrequencyScore(4), 0.01)
	assert.InDelta(t, 52.07, FrequencyScore(10), 0.01)
	assert.Equal(t, 100.0, FrequencyScore(1000))
	assert.Equal(t, 0.0, FrequencyScore(0))
}

func TestRecencyScore_Branches(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected float64
	}{
		{"just bought", 0, 0},
		{"early", 0.25, 25},
		{"low boundary", 0.5, 50},
		{"getting close", 0.7, 70},
		{"sweet spot start", 0.9, 90},
		{"on schedule", 1.0, 93.333},
		{"sweet spot end", 1.2, 100},
		{"overdue", 2.2, 40 + 60*math.Exp(-0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RecencyScore(tt.ratio), 0.01)
		})
	}
}

func TestRecencyScore_OverdueIsMonotonicAndFloored(t *testing.T) {
	prev := RecencyScore(1.2)
	for ratio := 1.25; ratio < 50; ratio += 0.25 {
		s := RecencyScore(ratio)
		assert.LessOrEqual(t, s, prev, "ratio %.2f", ratio)
		assert.GreaterOrEqual(t, s, 40.0, "ratio %.2f", ratio)
		prev = s
	}
	assert.InDelta(t, 40.0, RecencyScore(1e6), 0.01)
}

func TestQuantityScore(t *testing.T) {
	assert.Equal(t, 100.0, QuantityScore([]int{3}), "single observation is consistent")
	assert.Equal(t, 100.0, QuantityScore([]int{2, 2, 2}))
	// mean 2, population stddev 1 → CV 0.5
	assert.InDelta(t, 75.0, QuantityScore([]int{1, 3}), 1e-9)
	assert.Equal(t, 0.0, QuantityScore([]int{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}))
}

func TestSuggestedQuantity(t *testing.T) {
	assert.Equal(t, 2, SuggestedQuantity([]int{2, 2, 3}))
	assert.Equal(t, 3, SuggestedQuantity([]int{2, 3, 3, 4}))
	assert.Equal(t, 1, SuggestedQuantity(nil))
}

func TestScoreItem_ScenarioA_WeeklyDue(t *testing.T) {
	pattern := NewPatternDetector().DetectPatterns(purchases("milk", "Milk", 1, 0, 7, 14, 21))["milk"]
	scorer := NewItemScorer(models.DefaultWeights())

	rec := scorer.ScoreItem(pattern, day(28))

	assert.InDelta(t, 34.95, rec.FrequencyScore, 0.01)
	assert.GreaterOrEqual(t, rec.RecencyScore, 90.0)
	assert.LessOrEqual(t, rec.RecencyScore, 100.0)
	assert.Equal(t, 100.0, rec.QuantityScore)
	assert.InDelta(t, 71.3, rec.Score, 0.1)
	assert.Contains(t, rec.Reasoning, "due for reorder")
	assert.Contains(t, rec.Reasoning, "consistent quantity (~1)")
	assert.Equal(t, 1, rec.SuggestedQuantity)
}

func TestScoreItem_ScenarioB_TooRecent(t *testing.T) {
	pattern := NewPatternDetector().DetectPatterns(purchases("flour", "Flour", 1, 0, 60))["flour"]
	scorer := NewItemScorer(models.DefaultWeights())

	rec := scorer.ScoreItem(pattern, day(61))

	assert.Less(t, rec.RecencyScore, 5.0)
	assert.Less(t, rec.Score, models.DefaultMinScore)
	assert.NotContains(t, rec.Reasoning, "due for reorder")
}

func TestScoreItem_Overdue(t *testing.T) {
	pattern := NewPatternDetector().DetectPatterns(purchases("coffee", "Coffee", 1, 0, 10, 20, 30, 40))["coffee"]
	scorer := NewItemScorer(models.DefaultWeights())

	rec := scorer.ScoreItem(pattern, day(65))

	assert.Contains(t, rec.Reasoning, "regularly purchased (5x)")
	assert.Contains(t, rec.Reasoning, "overdue by 15 days")
}

func TestScoreItem_FallbackReasoning(t *testing.T) {
	orders := concatOrders(
		purchases("chips", "Chips", 1, 0),
		purchases("chips", "Chips", 9, 40),
	)
	pattern := NewPatternDetector().DetectPatterns(orders)["chips"]

	rec := NewItemScorer(models.DefaultWeights()).ScoreItem(pattern, day(45))

	assert.Equal(t, DefaultReasoning, rec.Reasoning)
}

func TestScoreItem_Bounds(t *testing.T) {
	detector := NewPatternDetector()
	weightSets := []models.Weights{
		models.DefaultWeights(),
		{Frequency: 1},
		{Recency: 1},
		{Quantity: 1},
		{Frequency: 0.2, Recency: 0.5, Quantity: 0.3},
	}
	histories := [][]models.Order{
		purchases("a", "A", 1, 0, 1),
		purchases("b", "B", 7, 0, 3, 4, 9, 30, 31, 32, 90, 91, 92, 93, 94),
		concatOrders(purchases("c", "C", 1, 0), purchases("c", "C", 50, 365)),
	}

	for _, w := range weightSets {
		scorer := NewItemScorer(w)
		for _, h := range histories {
			for _, p := range detector.DetectPatterns(h) {
				for _, now := range []int{-10, 0, 1, 50, 400, 5000} {
					rec := scorer.ScoreItem(p, day(now))
					for _, s := range []float64{rec.Score, rec.FrequencyScore, rec.RecencyScore, rec.QuantityScore} {
						require.False(t, math.IsNaN(s))
						assert.GreaterOrEqual(t, s, 0.0)
						assert.LessOrEqual(t, s, 100.0)
					}
					assert.NotEmpty(t, rec.Reasoning)
					assert.GreaterOrEqual(t, rec.SuggestedQuantity, 1)
				}
			}
		}
	}
}
