package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	config "reorder-api/configs"
	"reorder-api/pkg/logging"
)

// AdminHandler は管理者向け操作のハンドラです。
type AdminHandler struct {
	AdminUsername string
	AdminPassword string

	// maintenance はメンテナンスモードのフラグです。
	maintenance atomic.Bool
}

// NewAdminHandler は新しいAdminHandlerを生成します。
func NewAdminHandler(cfg *config.Config) *AdminHandler {
	return &AdminHandler{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}
}

// AdminCredentials は管理者認証のためのリクエストボディです。
type AdminCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// InMaintenance reports whether maintenance mode is on.
func (h *AdminHandler) InMaintenance() bool {
	return h.maintenance.Load()
}

// StartMaintenance はメンテナンスモードを開始します。
func (h *AdminHandler) StartMaintenance(c *gin.Context) {
	h.setMaintenance(c, true)
}

// StopMaintenance はメンテナンスモードを停止します。
func (h *AdminHandler) StopMaintenance(c *gin.Context) {
	h.setMaintenance(c, false)
}

func (h *AdminHandler) setMaintenance(c *gin.Context, on bool) {
	var input AdminCredentials
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "username and password are required")
		return
	}
	if !h.authorized(input) {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.maintenance.Store(on)
	logging.Warn().Bool("maintenance", on).Str("admin", input.Username).Msg("maintenance mode changed")
	respondOK(c, gin.H{"maintenance": on})
}

// authorized compares in constant time. An empty admin password disables the endpoints.
func (h *AdminHandler) authorized(in AdminCredentials) bool {
	if h.AdminPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(in.Username), []byte(h.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(in.Password), []byte(h.AdminPassword)) == 1
	return userOK && passOK
}

// GetHealthStatus は現在のサーバーの状態を返します。
func (h *AdminHandler) GetHealthStatus(c *gin.Context) {
	respondOK(c, gin.H{"maintenance": h.InMaintenance()})
}

// HealthCheck は外部のヘルスチェッカー（例: ロードバランサー）からのリクエストに応答します。
func (h *AdminHandler) HealthCheck(c *gin.Context) {
	if h.InMaintenance() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": "server is in maintenance mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MaintenanceMiddleware rejects API calls with 503 while maintenance mode is on.
// Admin routes stay reachable so the mode can be switched off.
func (h *AdminHandler) MaintenanceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.InMaintenance() && !strings.HasPrefix(c.Request.URL.Path, "/api/v1/admin") {
			respondError(c, http.StatusServiceUnavailable, "server is in maintenance mode")
			return
		}
		c.Next()
	}
}
