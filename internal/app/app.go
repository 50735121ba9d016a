package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/torcida/internal/auth"
	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/config"
	"github.com/hitoshi/torcida/internal/database"
	"github.com/hitoshi/torcida/internal/handler"
	"github.com/hitoshi/torcida/internal/logger"
	"github.com/hitoshi/torcida/internal/metrics"
	"github.com/hitoshi/torcida/internal/middleware"
	"github.com/hitoshi/torcida/internal/repository"
	"github.com/hitoshi/torcida/internal/security"
	"github.com/hitoshi/torcida/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定された場合に備えて設定値で張り直す
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。statusの出力はstdoutに書き出す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("addr", cfg.ListenAddr()),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandStatus:
		return runStatus(cfg, os.Stdout)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// stack はserveとstatusで共有する依存関係一式。
type stack struct {
	db       *sql.DB
	sessions *repository.PostgresSessionRepo
	profiles *repository.PostgresProfileRepo
	auth     *auth.Service
	sync     *authsync.Synchronizer
}

// newStack はDB接続を開き、リポジトリ・認証サービス・Synchronizerを組み立てる。
// Synchronizerはまだ開始していない。
func newStack(ctx context.Context, cfg *config.Config, handles auth.HandleStore, recorder authsync.MetricsRecorder) (*stack, error) {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	// 3. 認証サービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo, handles,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge, Logger: slog.Default()},
	)

	// 4. セッションとプロフィールの同期
	synchronizer := authsync.New(authService, profileRepo, authsync.Options{
		Logger: slog.Default(),
		Policy: authsync.CallPolicy{
			Timeout:  cfg.RemoteCallTimeout,
			Attempts: cfg.RemoteCallAttempts,
			Backoff:  cfg.RemoteRetryBackoff,
		},
		Sanitizer: security.NewNameSanitizer(),
		Metrics:   recorder,
	})

	return &stack{
		db:       db,
		sessions: sessionRepo,
		profiles: profileRepo,
		auth:     authService,
		sync:     synchronizer,
	}, nil
}

// runServe はローカルのメンバーAPIサーバーとして起動する。
// プロセス内で唯一のSynchronizerを保持し、HTTPでUIに状態を公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	s, err := newStack(ctx, cfg, auth.NewFileHandleStore(cfg.SessionFile), collector)
	if err != nil {
		return err
	}
	defer s.db.Close()
	defer s.sync.Close()

	// 1. 起動時のセッション確認とイベント購読
	s.sync.Start(ctx)

	// 2. バックグラウンドジョブ
	go s.auth.StartAutoRefresh(ctx, cfg.SessionRefreshInterval)
	go cleanup.NewCleanupJob(s.sessions, slog.Default()).Start(ctx)

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral), slog.Default(),
	)
	defer rateLimiter.Stop()

	// 3. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              middleware.CSRFConfig{CookieSecure: isHTTPS(cfg.BaseURL)},
		RateLimiter:       rateLimiter,
		StatusMetrics:     collector,
		Synchronizer:      s.sync,
		AuthService:       s.auth,
		AuthConfig:        handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},
		MemberService:     handler.NewMemberServiceAdapter(s.profiles),
		MetricsHandler:    metrics.Handler(registry),
	})

	// 4. HTTPサーバーの起動
	// /api/state/eventsは長時間接続のため、WriteTimeoutは設定しない。
	// シグナル受信でリクエストのctxも終了させ、SSEの接続を閉じる。
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runStatus は保存済みのセッションハンドルから状態を1回同期し、JSONでoutに出力する。
// マイグレーションのバージョンも併せてログに記録する。
func runStatus(cfg *config.Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	migration, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	slog.Info("migration status",
		slog.Uint64("version", uint64(migration.Version)),
		slog.Bool("dirty", migration.Dirty),
		slog.Bool("applied", migration.Applied),
	)

	s, err := newStack(ctx, cfg, auth.NewFileHandleStore(cfg.SessionFile), nil)
	if err != nil {
		return err
	}
	defer s.db.Close()

	s.sync.Bootstrap(ctx)
	// バックグラウンドのyoutube連携フラグ更新を待つ
	s.sync.Close()

	if err := handler.WriteState(out, s.sync.State()); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
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
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードとクエリを伏せる。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}

// isHTTPS はBASE_URLがhttpsかどうかを返す。CSRF CookieのSecure属性に使う。
func isHTTPS(baseURL string) bool {
	u, err := url.Parse(baseURL)
	return err == nil && u.Scheme == "https"
}
