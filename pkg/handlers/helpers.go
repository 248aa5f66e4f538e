package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gobreaker "github.com/sony/gobreaker/v2"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
	"reorder-api/pkg/services"
)

// respondOK は成功レスポンスを返します。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// respondError はエラーレスポンスを返します。
func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}

// respondServiceError maps a service error onto an HTTP status.
func respondServiceError(c *gin.Context, action string, err error) {
	status := statusForError(err)
	event := logging.Warn()
	if status >= http.StatusInternalServerError {
		event = logging.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Int("status", status).Msg(action + " failed")
	respondError(c, status, fmt.Sprintf("%s: %v", action, err))
}

func statusForError(err error) int {
	var statusErr *services.StatusError
	var rpcErr *services.RPCError
	switch {
	case errors.Is(err, models.ErrInvalidAnalysisConfig),
		errors.Is(err, models.ErrInvalidOrder),
		errors.Is(err, services.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPatternNotFound),
		errors.Is(err, services.ErrRecommendationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoToken),
		errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &statusErr),
		errors.As(err, &rpcErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryFloat parses an optional float query parameter.
func queryFloat(c *gin.Context, key string, fallback float64) (float64, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return v, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
