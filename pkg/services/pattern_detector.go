package services

import (
	"sort"
	"time"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// MinPurchasesForPattern is the number of distinct orders needed before an item has a cadence.
const MinPurchasesForPattern = 2

// PatternDetector 購買パターン検出
type PatternDetector struct{}

// NewPatternDetector creates a detector.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

type itemOccurrences struct {
	name       string
	nameDate   time.Time
	orderDates map[string]time.Time // order id -> calendar day
	quantities []int
}

// DetectPatterns groups order lines by item and derives one pattern per item
// bought in at least two orders. Input order does not matter.
//
// An order containing the same item on several lines counts once for frequency
// and interval, but every line's quantity is kept for the quantity statistics.
func (pd *PatternDetector) DetectPatterns(orders []models.Order) map[string]models.ItemPattern {
	occurrences := make(map[string]*itemOccurrences)

	for _, order := range orders {
		day := calendarDay(order.OrderDate)
		for _, line := range order.Lines {
			occ, ok := occurrences[line.ItemID]
			if !ok {
				occ = &itemOccurrences{orderDates: make(map[string]time.Time)}
				occurrences[line.ItemID] = occ
			}
			occ.orderDates[order.ID] = day
			occ.quantities = append(occ.quantities, line.Quantity)
			// the most recent name wins; ties keep the first seen
			if occ.name == "" || day.After(occ.nameDate) {
				occ.name = line.ItemName
				occ.nameDate = day
			}
		}
	}

	patterns := make(map[string]models.ItemPattern)
	for itemID, occ := range occurrences {
		n := len(occ.orderDates)
		if n < MinPurchasesForPattern {
			continue
		}

		dates := make([]time.Time, 0, n)
		for _, d := range occ.orderDates {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

		first, last := dates[0], dates[n-1]
		span := daysBetween(first, last)
		if span <= 0 {
			// all purchases on one day: no cadence
			continue
		}

		quantities := intsToFloats(occ.quantities)
		patterns[itemID] = models.ItemPattern{
			ItemID:          itemID,
			ItemName:        occ.name,
			TotalPurchases:  n,
			Quantities:      append([]int(nil), occ.quantities...),
			FirstPurchase:   first,
			LastPurchase:    last,
			AvgIntervalDays: float64(span) / float64(n-1),
			AvgQuantity:     calculateMean(quantities),
			StdDevQuantity:  calculateStandardDeviation(quantities),
		}
	}

	logging.Debug().
		Int("orders", len(orders)).
		Int("items", len(occurrences)).
		Int("patterns", len(patterns)).
		Msg("detected purchase patterns")

	return patterns
}

// SortedPatterns returns the patterns ordered by item id.
func SortedPatterns(patterns map[string]models.ItemPattern) []models.ItemPattern {
	out := make([]models.ItemPattern, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}
