package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/glucopilot/glucosync/internal/config"
	"github.com/glucopilot/glucosync/internal/database"
	"github.com/glucopilot/glucosync/internal/handler"
	"github.com/glucopilot/glucosync/internal/librelink"
	"github.com/glucopilot/glucosync/internal/logger"
	"github.com/glucopilot/glucosync/internal/metrics"
	"github.com/glucopilot/glucosync/internal/repository"
	"github.com/glucopilot/glucosync/internal/security"
	worksync "github.com/glucopilot/glucosync/internal/worker/sync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定で指定されたログレベルを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("OPS_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("ops_port", cfg.OpsPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runWorker(cfg)
	}
}

// runWorker は同期ワーカーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、同期スケジューラを起動する。
// 運用系HTTPサーバー（/health, /metrics）をバックグラウンドで立ち上げ、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	patientRepo := repository.NewPostgresPatientRepo(db)
	readingRepo := repository.NewPostgresReadingRepo(db)

	// 3. 上流エンドポイントの検証とHTTPクライアントの構築
	guard := security.NewEndpointGuard()
	if err := guard.ValidateEndpoint(cfg.LibreLinkEndpoint); err != nil {
		return fmt.Errorf("invalid LibreLink endpoint %q: %w", cfg.LibreLinkEndpoint, err)
	}
	safeClient := guard.NewSafeClient(cfg.UpstreamTimeout)

	// 4. 上流APIレートリミッタ（全患者で共有）
	limiter := rate.NewLimiter(rate.Limit(cfg.UpstreamRateRPS), cfg.UpstreamRateBurst)

	// 5. 患者ごとに独立したセッションを持たせるため、クライアントは
	//    ファクトリで都度生成する。HTTPクライアントとリミッタは共有する。
	endpoint := cfg.LibreLinkEndpoint
	clientFactory := func() worksync.UpstreamClient {
		return librelink.NewClient(safeClient, endpoint, slog.Default(), limiter)
	}

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 7. 同期ワーカーの構築
	syncer := worksync.NewSyncer(
		patientRepo, readingRepo, clientFactory, collector,
		slog.Default(), cfg.SyncMaxConcurrent,
	)
	scheduler := worksync.NewScheduler(syncer, slog.Default())

	// 8. 運用系HTTPサーバーの起動
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	})
	opsServer := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", opsServer.Addr),
		)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
		slog.String("endpoint", cfg.LibreLinkEndpoint),
	)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	// 運用系HTTPサーバーを停止する
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
