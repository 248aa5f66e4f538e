package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/services"
)

// maxDashboardHours caps the dashboard window at 30 days.
const maxDashboardHours = 24 * 30

// MonitoringHandler はモニタリング関連の操作のハンドラです。
type MonitoringHandler struct {
	Service *services.MonitoringService
}

// NewMonitoringHandler は新しいMonitoringHandlerを生成します。
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{
		Service: service,
	}
}

// GetLogs は集計されたログデータを返します。period は "6h" や "7d" の形式です。
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	hours, ok := parsePeriodHours(c.DefaultQuery("period", "24h"))
	if !ok {
		respondError(c, http.StatusBadRequest, "period must look like 24h or 7d")
		return
	}
	respondOK(c, h.Service.GetDashboardData(hours))
}

func parsePeriodHours(period string) (int, bool) {
	if len(period) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	var hours int
	switch strings.ToLower(period[len(period)-1:]) {
	case "h":
		hours = n
	case "d":
		hours = n * 24
	default:
		return 0, false
	}
	if hours > maxDashboardHours {
		hours = maxDashboardHours
	}
	return hours, true
}
