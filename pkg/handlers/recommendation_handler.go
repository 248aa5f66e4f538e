package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
	"reorder-api/pkg/services"
)

// Recommender produces ranked recommendations from order history.
type Recommender interface {
	GenerateRecommendations(ctx context.Context, history []models.Order, now time.Time, cfg models.AnalysisConfig) ([]models.Recommendation, error)
	RecommendationForItem(ctx context.Context, history []models.Order, now time.Time, weights models.Weights, itemID string) (models.Recommendation, error)
}

// RecommendationHandler 推薦APIのハンドラ
type RecommendationHandler struct {
	store       services.OrderStore
	recommender Recommender
	detector    *services.PatternDetector
	analysis    models.AnalysisConfig
	now         func() time.Time
}

// NewRecommendationHandler creates the handler. analysis supplies the defaults
// that query parameters override.
func NewRecommendationHandler(store services.OrderStore, recommender Recommender, analysis models.AnalysisConfig) *RecommendationHandler {
	return &RecommendationHandler{
		store:       store,
		recommender: recommender,
		detector:    services.NewPatternDetector(),
		analysis:    analysis,
		now:         time.Now,
	}
}

// GetRecommendations GET /api/v1/recommendations?min_score=&max_items=
func (h *RecommendationHandler) GetRecommendations(c *gin.Context) {
	cfg := h.analysis
	var err error
	if cfg.MinScore, err = queryFloat(c, "min_score", cfg.MinScore); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.MaxItems, err = queryInt(c, "max_items", cfg.MaxItems); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	orders, err := h.store.ListOrders(ctx)
	if err != nil {
		respondServiceError(c, "load order history", err)
		return
	}

	now := h.now()
	recs, err := h.recommender.GenerateRecommendations(ctx, orders, now, cfg)
	if err != nil {
		respondServiceError(c, "generate recommendations", err)
		return
	}

	if err := h.store.SaveRecommendations(ctx, recs); err != nil {
		logging.Warn().Err(err).Msg("failed to record recommendations")
	}

	respondOK(c, gin.H{
		"recommendations": recs,
		"count":           len(recs),
		"orders_analyzed": len(orders),
		"min_score":       cfg.MinScore,
		"max_items":       cfg.MaxItems,
		"generated_at":    now.UTC(),
	})
}

// GetItemRecommendation GET /api/v1/recommendations/:itemId
func (h *RecommendationHandler) GetItemRecommendation(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := h.store.ListOrders(ctx)
	if err != nil {
		respondServiceError(c, "load order history", err)
		return
	}

	rec, err := h.recommender.RecommendationForItem(ctx, orders, h.now(), h.analysis.Weights, c.Param("itemId"))
	if err != nil {
		respondServiceError(c, "score item", err)
		return
	}
	respondOK(c, rec)
}

// GetPatterns GET /api/v1/patterns
func (h *RecommendationHandler) GetPatterns(c *gin.Context) {
	orders, err := h.store.ListOrders(c.Request.Context())
	if err != nil {
		respondServiceError(c, "load order history", err)
		return
	}
	patterns := services.SortedPatterns(h.detector.DetectPatterns(orders))
	respondOK(c, gin.H{"patterns": patterns, "count": len(patterns)})
}

// GetHistory GET /api/v1/recommendations/history?limit=
func (h *RecommendationHandler) GetHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 {
		respondError(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	entries, err := h.store.RecommendationLog(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, "load recommendation log", err)
		return
	}
	respondOK(c, gin.H{"entries": entries, "count": len(entries)})
}
