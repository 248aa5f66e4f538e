package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	config "reorder-api/configs"
	"reorder-api/internal/app"
	"reorder-api/pkg/logging"
)

var (
	engine  *gin.Engine
	initErr error
	once    sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() (*gin.Engine, error) {
	once.Do(func() {
		// 環境変数はプラットフォームの設定から読み込まれるため、godotenvは使いません。
		cfg := config.LoadConfig()
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: "json"})
		gin.SetMode(gin.ReleaseMode)

		application, err := app.New(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		engine = application.Router()
		logging.Info().Msg("serverless handler initialized")
	})
	return engine, initErr
}

// Handler はサーバーレス環境からのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	router, err := setupApp()
	if err != nil {
		logging.Error().Err(err).Msg("handler initialization failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"service not configured"}`))
		return
	}
	router.ServeHTTP(w, r)
}
