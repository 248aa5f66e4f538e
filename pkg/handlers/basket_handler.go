package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/models"
)

// BasketOperator is the basket flow behind the basket endpoints.
type BasketOperator interface {
	AddItems(ctx context.Context, recs []models.Recommendation) models.BasketResult
	GetBasket(ctx context.Context) (models.Basket, error)
	ClearBasket(ctx context.Context) error
}

// BasketHandler バスケットAPIのハンドラ
type BasketHandler struct {
	basket BasketOperator
}

// NewBasketHandler creates the handler.
func NewBasketHandler(basket BasketOperator) *BasketHandler {
	return &BasketHandler{basket: basket}
}

// BasketAddItem is one item the caller chose to add.
type BasketAddItem struct {
	ItemID   string  `json:"item_id" binding:"required"`
	ItemName string  `json:"item_name"`
	Quantity int     `json:"quantity" binding:"required,min=1,max=100"`
	Score    float64 `json:"score"`
}

// BasketAddRequest is the body of POST /api/v1/basket/add.
type BasketAddRequest struct {
	Items []BasketAddItem `json:"items" binding:"required,min=1,dive"`
}

// GetBasket GET /api/v1/basket
func (h *BasketHandler) GetBasket(c *gin.Context) {
	basket, err := h.basket.GetBasket(c.Request.Context())
	if err != nil {
		respondServiceError(c, "load basket", err)
		return
	}
	respondOK(c, basket)
}

// AddItems POST /api/v1/basket/add
func (h *BasketHandler) AddItems(c *gin.Context) {
	var req BasketAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// the caller picked these items, so they are treated as available
	recs := make([]models.Recommendation, len(req.Items))
	for i, item := range req.Items {
		recs[i] = models.Recommendation{
			ItemID:            item.ItemID,
			ItemName:          item.ItemName,
			Score:             item.Score,
			SuggestedQuantity: item.Quantity,
			Available:         true,
		}
	}

	result := h.basket.AddItems(c.Request.Context(), recs)
	respondOK(c, result)
}

// ClearBasket POST /api/v1/basket/clear
func (h *BasketHandler) ClearBasket(c *gin.Context) {
	if err := h.basket.ClearBasket(c.Request.Context()); err != nil {
		respondServiceError(c, "clear basket", err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
