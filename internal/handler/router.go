package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/torcida/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	StatusMetrics     middleware.HTTPStatusRecorder

	// 認証状態（Synchronizer）
	Synchronizer interface {
		StateServiceInterface
		SessionSynchronizer
	}

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 管理者
	MemberService MemberServiceInterface

	// MetricsHandler は/metricsで公開するPrometheusハンドラー。nilの場合は公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Session → Logging → RateLimit → CSRF（状態変更のみ）
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.CSRF.Logger == nil {
		deps.CSRF.Logger = logger
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.Synchronizer))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusMetrics))

	stateHandler := NewStateHandler(deps.Synchronizer, logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.Synchronizer, deps.AuthConfig, logger)
	adminHandler := NewAdminHandler(deps.MemberService, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

		// 認証状態
		r.Get("/api/state", stateHandler.GetState)
		r.Get("/api/state/events", stateHandler.Events)
		r.With(middleware.RequireSession).Post("/api/profile/refresh", stateHandler.RefreshProfile)

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/login", authHandler.SignIn)
			r.Post("/logout", authHandler.SignOut)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		})

		// 管理者
		r.With(middleware.RequireAdmin).Get("/api/admin/members", adminHandler.ListMembers)
	})

	return r
}
