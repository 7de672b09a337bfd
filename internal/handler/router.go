// Package handler は運用系HTTPエンドポイント（/health, /metrics）を提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glucopilot/glucosync/internal/middleware"
)

// HealthChecker はヘルスチェックに必要な最小インターフェース。
// *sql.DBがこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// healthResponse はGET /healthのレスポンスボディ。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// NewRouter は運用系エンドポイントのルーティングを構成したchi.Routerを返す。
//
// ワーカープロセスに同居するサーバーのため、患者データを返すエンドポイントは
// 一切持たない。公開するのはヘルスチェックとPrometheusメトリクスのみ。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	r.Get("/health", healthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// DBに到達できない場合は503を返す。Dockerのhealthcheckやロードバランサの
// 死活監視から呼ばれることを想定している。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok"}
		status := http.StatusOK

		if err := checker.PingContext(ctx); err != nil {
			slog.Warn("health check: database unreachable",
				slog.String("error", err.Error()),
			)
			resp = healthResponse{Status: "degraded", Database: "unreachable"}
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("health check: failed to encode response",
				slog.String("error", err.Error()),
			)
		}
	}
}
