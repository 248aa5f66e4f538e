package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Default analysis settings
const (
	DefaultMinScore        = 50.0
	DefaultMaxItems        = 20
	DefaultFrequencyWeight = 0.40
	DefaultRecencyWeight   = 0.40
	DefaultQuantityWeight  = 0.20

	// weightTolerance is how far the weight sum may drift from 1.0
	weightTolerance = 0.01
)

// Recommendation log actions
const (
	ActionPending  = "pending"
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
)

var (
	// ErrInvalidOrder is returned when an order fails validation.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInvalidAnalysisConfig is returned when weights, threshold or limit are out of range.
	ErrInvalidAnalysisConfig = errors.New("invalid analysis config")
)

// OrderLine represents one item within an order.
type OrderLine struct {
	ItemID    string           `json:"item_id"`
	ItemName  string           `json:"item_name"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"` // nil when unknown
	Category  string           `json:"category,omitempty"`
	Brand     string           `json:"brand,omitempty"`
}

// Validate checks the line for an item id, a positive quantity and a non-negative price.
func (l OrderLine) Validate() error {
	if strings.TrimSpace(l.ItemID) == "" {
		return fmt.Errorf("%w: line has empty item id", ErrInvalidOrder)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: item %s has non-positive quantity %d", ErrInvalidOrder, l.ItemID, l.Quantity)
	}
	if l.UnitPrice != nil && l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: item %s has negative price %s", ErrInvalidOrder, l.ItemID, l.UnitPrice.String())
	}
	return nil
}

// Order represents one completed purchase.
type Order struct {
	ID          string           `json:"id"`
	OrderDate   time.Time        `json:"order_date"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
	Lines       []OrderLine      `json:"items"`
}

// NewOrder builds a validated order.
func NewOrder(id string, orderDate time.Time, lines []OrderLine) (Order, error) {
	o := Order{ID: id, OrderDate: orderDate, Lines: lines}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Validate rejects orders without id, date or lines.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidOrder)
	}
	if o.OrderDate.IsZero() {
		return fmt.Errorf("%w: order %s has no date", ErrInvalidOrder, o.ID)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order %s has no lines", ErrInvalidOrder, o.ID)
	}
	for _, l := range o.Lines {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
	}
	return nil
}

// LineTotal returns the sum of price*quantity over lines with a known price.
func (o Order) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		if l.UnitPrice == nil {
			continue
		}
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// ItemPattern is the per-item aggregate derived from order history.
type ItemPattern struct {
	ItemID          string    `json:"item_id"`
	ItemName        string    `json:"item_name"`
	TotalPurchases  int       `json:"total_purchases"` // distinct orders containing the item
	Quantities      []int     `json:"quantities"`      // one entry per line occurrence
	FirstPurchase   time.Time `json:"first_purchase"`
	LastPurchase    time.Time `json:"last_purchase"`
	AvgIntervalDays float64   `json:"avg_interval_days"`
	AvgQuantity     float64   `json:"avg_quantity"`
	StdDevQuantity  float64   `json:"std_dev_quantity"`
}

// Weights are the scoring weights for the three sub-scores.
type Weights struct {
	Frequency float64 `json:"frequency" yaml:"frequency"`
	Recency   float64 `json:"recency" yaml:"recency"`
	Quantity  float64 `json:"quantity" yaml:"quantity"`
}

// DefaultWeights returns 0.40 / 0.40 / 0.20.
func DefaultWeights() Weights {
	return Weights{
		Frequency: DefaultFrequencyWeight,
		Recency:   DefaultRecencyWeight,
		Quantity:  DefaultQuantityWeight,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Frequency + w.Recency + w.Quantity
}

// Validate requires each weight in [0,1] and a sum of 1.0.
func (w Weights) Validate() error {
	named := []struct {
		name  string
		value float64
	}{
		{"frequency", w.Frequency},
		{"recency", w.Recency},
		{"quantity", w.Quantity},
	}
	for _, n := range named {
		if math.IsNaN(n.value) || n.value < 0 || n.value > 1 {
			return fmt.Errorf("%w: %s weight %.3f outside [0,1]", ErrInvalidAnalysisConfig, n.name, n.value)
		}
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.3f, expected 1.0", ErrInvalidAnalysisConfig, w.Sum())
	}
	return nil
}

// AnalysisConfig holds the per-run engine settings.
type AnalysisConfig struct {
	MinScore float64 `json:"min_score" yaml:"min_score"`
	MaxItems int     `json:"max_items" yaml:"max_items"`
	Weights  Weights `json:"weights" yaml:"weights"`
}

// DefaultAnalysisConfig returns min score 50, max 20 items and the default weights.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinScore: DefaultMinScore,
		MaxItems: DefaultMaxItems,
		Weights:  DefaultWeights(),
	}
}

// Validate checks threshold, limit and weights.
func (c AnalysisConfig) Validate() error {
	if math.IsNaN(c.MinScore) || c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("%w: min score %.2f outside [0,100]", ErrInvalidAnalysisConfig, c.MinScore)
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("%w: max items must be positive, got %d", ErrInvalidAnalysisConfig, c.MaxItems)
	}
	return c.Weights.Validate()
}

// Availability is the ordering service's answer for one item.
type Availability struct {
	Available bool             `json:"available"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// Recommendation is one ranked reorder candidate.
type Recommendation struct {
	ItemID            string           `json:"item_id"`
	ItemName          string           `json:"item_name"`
	Score             float64          `json:"score"`
	FrequencyScore    float64          `json:"frequency_score"`
	RecencyScore      float64          `json:"recency_score"`
	QuantityScore     float64          `json:"quantity_score"`
	Reasoning         string           `json:"reasoning"`
	SuggestedQuantity int              `json:"suggested_quantity"`
	Available         bool             `json:"available"`
	CurrentPrice      *decimal.Decimal `json:"current_price,omitempty"`
	Pattern           ItemPattern      `json:"pattern"`
}

// BasketItem is one entry of the remote basket.
type BasketItem struct {
	ItemID   string           `json:"item_id"`
	ItemName string           `json:"item_name"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	MRP      *decimal.Decimal `json:"mrp,omitempty"`
}

// Basket represents the remote basket contents.
type Basket struct {
	Items   []BasketItem    `json:"items"`
	Total   decimal.Decimal `json:"total"`
	Address string          `json:"address,omitempty"`
}

// BasketAddition describes an item that was added to the basket.
type BasketAddition struct {
	ItemID   string           `json:"item_id"`
	ItemName string           `json:"item_name"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// BasketFailure describes an item that could not be added.
type BasketFailure struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Reason   string `json:"reason"`
}

// BasketResult summarises an add-to-basket batch.
type BasketResult struct {
	Added      []BasketAddition `json:"added"`
	Failed     []BasketFailure  `json:"failed"`
	TotalPrice decimal.Decimal  `json:"total_price"`
}

// RecommendationLogEntry is the persisted trail of a recommendation.
type RecommendationLogEntry struct {
	ID                int64     `json:"id"`
	ItemID            string    `json:"item_id"`
	ItemName          string    `json:"item_name"`
	Score             float64   `json:"score"`
	SuggestedQuantity int       `json:"suggested_quantity"`
	Reasoning         string    `json:"reasoning"`
	Action            string    `json:"action"`
	AddedToBasket     bool      `json:"added_to_basket"`
	Reason            string    `json:"reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SyncResult reports what a history sync stored.
type SyncResult struct {
	OrdersSynced int `json:"orders_synced"`
	TotalOrders  int `json:"total_orders"`
	UniqueItems  int `json:"unique_items"`
}
