package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/services"
)

// maxImportBytes limits uploaded history files to 10 MiB.
const maxImportBytes = 10 << 20

// OrderHandler 注文履歴APIのハンドラ
type OrderHandler struct {
	store    services.OrderStore
	importer *services.OrderImportService
}

// NewOrderHandler creates the handler.
func NewOrderHandler(store services.OrderStore, importer *services.OrderImportService) *OrderHandler {
	return &OrderHandler{store: store, importer: importer}
}

// GetStatus GET /api/v1/status
func (h *OrderHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := h.store.OrderCount(ctx)
	if err != nil {
		respondServiceError(c, "count orders", err)
		return
	}
	items, err := h.store.ItemCount(ctx)
	if err != nil {
		respondServiceError(c, "count items", err)
		return
	}
	respondOK(c, gin.H{"total_orders": orders, "unique_items": items})
}

// ListOrders GET /api/v1/orders?limit=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 {
		respondError(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	orders, err := h.store.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, "list orders", err)
		return
	}
	respondOK(c, gin.H{"orders": orders, "count": len(orders)})
}

// ImportOrders POST /api/v1/orders/import (multipart "file", .csv or .xlsx)
func (h *OrderHandler) ImportOrders(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "multipart file 'file' is required")
		return
	}
	if fileHeader.Size > maxImportBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "file exceeds 10MB")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	orders, report, err := h.importer.ParseFile(fileHeader.Filename, f)
	if err != nil {
		logging.Warn().Err(err).Str("file", fileHeader.Filename).Msg("order file rejected")
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(orders) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "no valid rows", "data": report})
		return
	}

	if err := h.store.SaveOrders(c.Request.Context(), orders); err != nil {
		respondServiceError(c, "save imported orders", err)
		return
	}

	logging.Info().Str("file", report.FileName).Int("orders", len(orders)).Msg("imported orders saved")
	respondOK(c, report)
}
