package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-api/pkg/models"
)

func TestDetectPatterns_WeeklyItem(t *testing.T) {
	pd := NewPatternDetector()
	patterns := pd.DetectPatterns(purchases("milk", "Milk 1L", 2, 0, 7, 14, 21))

	require.Contains(t, patterns, "milk")
	p := patterns["milk"]
	assert.Equal(t, 4, p.TotalPurchases)
	assert.Equal(t, []int{2, 2, 2, 2}, p.Quantities)
	assert.InDelta(t, 7.0, p.AvgIntervalDays, 1e-9)
	assert.Equal(t, calendarDay(day(21)), p.LastPurchase)
	assert.Equal(t, calendarDay(day(0)), p.FirstPurchase)
	assert.InDelta(t, 2.0, p.AvgQuantity, 1e-9)
	assert.InDelta(t, 0.0, p.StdDevQuantity, 1e-9)
}

func TestDetectPatterns_SinglePurchaseExcluded(t *testing.T) {
	pd := NewPatternDetector()
	orders := concatOrders(
		purchases("bread", "Bread", 1, 0),
		purchases("eggs", "Eggs", 12, 0, 10),
	)

	patterns := pd.DetectPatterns(orders)

	assert.NotContains(t, patterns, "bread")
	assert.Contains(t, patterns, "eggs")
}

func TestDetectPatterns_UnorderedInput(t *testing.T) {
	pd := NewPatternDetector()
	ordered := pd.DetectPatterns(purchases("rice", "Rice", 1, 0, 10, 30))
	shuffled := pd.DetectPatterns(purchases("rice", "Rice", 1, 30, 0, 10))

	assert.Equal(t, ordered["rice"].AvgIntervalDays, shuffled["rice"].AvgIntervalDays)
	assert.Equal(t, ordered["rice"].LastPurchase, shuffled["rice"].LastPurchase)
	assert.InDelta(t, 15.0, ordered["rice"].AvgIntervalDays, 1e-9)
}

func TestDetectPatterns_DuplicateLinesCountOnce(t *testing.T) {
	pd := NewPatternDetector()
	orders := []models.Order{
		{
			ID:        "o1",
			OrderDate: day(0),
			Lines: []models.OrderLine{
				{ItemID: "apple", ItemName: "Apple", Quantity: 2},
				{ItemID: "apple", ItemName: "Apple", Quantity: 3},
			},
		},
		{
			ID:        "o2",
			OrderDate: day(14),
			Lines:     []models.OrderLine{{ItemID: "apple", ItemName: "Apple", Quantity: 4}},
		},
	}

	p := pd.DetectPatterns(orders)["apple"]

	assert.Equal(t, 2, p.TotalPurchases, "one order contributes one purchase")
	assert.ElementsMatch(t, []int{2, 3, 4}, p.Quantities, "every line contributes a quantity")
	assert.InDelta(t, 14.0, p.AvgIntervalDays, 1e-9)
}

func TestDetectPatterns_DuplicateLinesOnlyOrderIsNotAPattern(t *testing.T) {
	pd := NewPatternDetector()
	orders := []models.Order{{
		ID:        "o1",
		OrderDate: day(0),
		Lines: []models.OrderLine{
			{ItemID: "apple", ItemName: "Apple", Quantity: 2},
			{ItemID: "apple", ItemName: "Apple", Quantity: 3},
		},
	}}

	assert.Empty(t, pd.DetectPatterns(orders))
}

func TestDetectPatterns_SameDayOrdersDropped(t *testing.T) {
	pd := NewPatternDetector()
	orders := []models.Order{
		{ID: "a", OrderDate: day(3), Lines: []models.OrderLine{{ItemID: "tea", Quantity: 1}}},
		{ID: "b", OrderDate: day(3).Add(5 * time.Hour), Lines: []models.OrderLine{{ItemID: "tea", Quantity: 1}}},
	}

	assert.Empty(t, pd.DetectPatterns(orders))
}

func TestDetectPatterns_MostRecentNameWins(t *testing.T) {
	pd := NewPatternDetector()
	orders := concatOrders(
		purchases("soap", "Soap (old)", 1, 0),
		purchases("soap", "Soap Bar 100g", 1, 20),
	)

	assert.Equal(t, "Soap Bar 100g", pd.DetectPatterns(orders)["soap"].ItemName)
}

func TestDetectPatterns_EmptyHistory(t *testing.T) {
	assert.Empty(t, NewPatternDetector().DetectPatterns(nil))
}

func TestSortedPatterns(t *testing.T) {
	patterns := map[string]models.ItemPattern{
		"c": {ItemID: "c"},
		"a": {ItemID: "a"},
		"b": {ItemID: "b"},
	}

	sorted := SortedPatterns(patterns)

	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].ItemID)
	assert.Equal(t, "b", sorted[1].ItemID)
	assert.Equal(t, "c", sorted[2].ItemID)
}
