// Package app はアプリケーションの初期化、依存関係のワイヤリング、起動モードの切り替えを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/fintrack/internal/auth"
	"github.com/hitoshi/fintrack/internal/config"
	"github.com/hitoshi/fintrack/internal/database"
	"github.com/hitoshi/fintrack/internal/handler"
	"github.com/hitoshi/fintrack/internal/logger"
	"github.com/hitoshi/fintrack/internal/metrics"
	"github.com/hitoshi/fintrack/internal/middleware"
	"github.com/hitoshi/fintrack/internal/partner"
	"github.com/hitoshi/fintrack/internal/repository"
	"github.com/hitoshi/fintrack/internal/security"
	"github.com/hitoshi/fintrack/internal/user"
)

const shutdownTimeout = 30 * time.Second

// accountStore はアカウントストアとヘルスチェックを兼ねる実装。
type accountStore interface {
	repository.AccountRepository
	repository.HealthChecker
}

// Init はアプリケーションの初期化を行う。
// .envを読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .env の読み込み（既存の環境変数は上書きしない）
	dotenvErr := config.LoadDotEnv()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if dotenvErr != nil {
		slog.Warn("failed to load .env", slog.String("error", dotenvErr.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
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
		slog.String("port", cfg.ServerPort),
		slog.String("backend", string(cfg.DataBackend)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// application はワイヤリング済みのHTTPハンドラーと後始末処理。
type application struct {
	handler http.Handler
	close   func()
}

// build は設定に従ってストアを開き、全依存関係をワイヤリングする。
func build(cfg *config.Config) (*application, error) {
	// 1. ストアの初期化
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービスの初期化
	sanitizer := security.NewNameSanitizer()
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)

	authService := auth.NewService(store, tokens, hasher, sanitizer, collector)
	partnerService := partner.NewService(store, collector)
	userService := user.NewService(store, partnerService, hasher, sanitizer)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPartnerRequest),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenParser:       authService,
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:  store,
		MetricsHandler: metrics.Handler(reg),

		AuthService:    authService,
		UserService:    userService,
		PartnerService: partnerService,
	})

	return &application{
		handler: router,
		close: func() {
			rateLimiter.Stop()
			closeStore()
		},
	}, nil
}

// openStore はDATA_BACKENDに応じたアカウントストアを開く。
func openStore(cfg *config.Config) (accountStore, func(), error) {
	if cfg.DataBackend == config.BackendMemory {
		slog.Warn("using in-memory account store; data is lost on restart")
		return repository.NewMemoryAccountRepo(), func() {}, nil
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("database connection established")
	return repository.NewPostgresAccountRepo(db), func() { closeDB(db) }, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	built, err := build(cfg)
	if err != nil {
		return err
	}
	defer built.close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      built.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DataBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires DATA_BACKEND=%s", config.BackendPostgres)
	}

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
