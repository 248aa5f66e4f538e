package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/models"
)

// Syncer pulls remote order history into the local store.
type Syncer interface {
	Sync(ctx context.Context, full bool) (models.SyncResult, error)
}

// SyncHandler 同期APIのハンドラ
type SyncHandler struct {
	syncer Syncer
}

// NewSyncHandler creates the handler.
func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// Sync POST /api/v1/sync?full=true
func (h *SyncHandler) Sync(c *gin.Context) {
	full, _ := strconv.ParseBool(c.DefaultQuery("full", "false"))
	result, err := h.syncer.Sync(c.Request.Context(), full)
	if err != nil {
		respondServiceError(c, "sync orders", err)
		return
	}
	respondOK(c, result)
}
