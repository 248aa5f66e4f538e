package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// Basket outcome reasons stored in the recommendation log
const (
	ReasonUnavailable  = "unavailable"
	ReasonAdded        = "success"
	ReasonNotAvailable = "item not available"
)

// BasketClient is the part of the ordering service the basket flow needs.
type BasketClient interface {
	AddToBasket(ctx context.Context, itemID string, quantity int) error
	GetBasket(ctx context.Context) (models.Basket, error)
	ClearBasket(ctx context.Context) error
}

// RecommendationRecorder records what happened to a recommendation.
type RecommendationRecorder interface {
	UpdateRecommendationAction(ctx context.Context, itemID, action string, addedToBasket bool, reason string) error
}

// BasketService バスケット操作
type BasketService struct {
	client   BasketClient
	recorder RecommendationRecorder
}

// NewBasketService creates a basket service. recorder may be nil.
func NewBasketService(client BasketClient, recorder RecommendationRecorder) *BasketService {
	return &BasketService{client: client, recorder: recorder}
}

// AddItems adds every available recommendation with its suggested quantity.
// Failures are collected per item and never abort the batch.
func (s *BasketService) AddItems(ctx context.Context, recs []models.Recommendation) models.BasketResult {
	result := models.BasketResult{
		Added:      []models.BasketAddition{},
		Failed:     []models.BasketFailure{},
		TotalPrice: decimal.Zero,
	}

	for _, rec := range recs {
		if !rec.Available {
			result.Failed = append(result.Failed, models.BasketFailure{
				ItemID: rec.ItemID, ItemName: rec.ItemName, Reason: ReasonNotAvailable,
			})
			s.record(ctx, rec.ItemID, models.ActionRejected, false, ReasonUnavailable)
			continue
		}

		quantity := rec.SuggestedQuantity
		if quantity < 1 {
			quantity = 1
		}

		if err := s.client.AddToBasket(ctx, rec.ItemID, quantity); err != nil {
			reason := err.Error()
			var be *BasketError
			if errors.As(err, &be) {
				reason = be.Reason
			}
			logging.Warn().Err(err).Str("item_id", rec.ItemID).Msg("failed to add item to basket")
			result.Failed = append(result.Failed, models.BasketFailure{
				ItemID: rec.ItemID, ItemName: rec.ItemName, Reason: reason,
			})
			s.record(ctx, rec.ItemID, models.ActionRejected, false, reason)
			continue
		}

		result.Added = append(result.Added, models.BasketAddition{
			ItemID: rec.ItemID, ItemName: rec.ItemName, Quantity: quantity, Price: rec.CurrentPrice,
		})
		if rec.CurrentPrice != nil {
			result.TotalPrice = result.TotalPrice.Add(rec.CurrentPrice.Mul(decimal.NewFromInt(int64(quantity))))
		}
		s.record(ctx, rec.ItemID, models.ActionAccepted, true, ReasonAdded)
	}

	logging.Info().
		Int("added", len(result.Added)).
		Int("failed", len(result.Failed)).
		Str("total", result.TotalPrice.StringFixed(2)).
		Msg("basket update complete")
	return result
}

func (s *BasketService) record(ctx context.Context, itemID, action string, added bool, reason string) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.UpdateRecommendationAction(ctx, itemID, action, added, reason)
	if err != nil && !errors.Is(err, ErrRecommendationNotFound) {
		logging.Warn().Err(err).Str("item_id", itemID).Msg("failed to record recommendation outcome")
	}
}

// GetBasket returns the remote basket.
func (s *BasketService) GetBasket(ctx context.Context) (models.Basket, error) {
	return s.client.GetBasket(ctx)
}

// ClearBasket empties the remote basket.
func (s *BasketService) ClearBasket(ctx context.Context) error {
	return s.client.ClearBasket(ctx)
}
