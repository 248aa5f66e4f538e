package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "reorder-api/configs"
	"reorder-api/pkg/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.LoadConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "reorder.db")
	cfg.Cache.RedisAddr = ""
	return cfg
}

func TestNew_WiresServices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &services.MemoryAvailabilityCache{}, a.Cache)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"total_orders":0,"unique_items":0}}`, w.Body.String())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Weights.Frequency = 0.9

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_UnreachableRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &services.MemoryAvailabilityCache{}, a.Cache)
}
