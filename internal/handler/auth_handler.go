package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/torcida/internal/auth"
	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/middleware"
	"github.com/hitoshi/torcida/internal/model"
	"github.com/hitoshi/torcida/internal/repository"
)

// AuthServiceInterface は認証ハンドラーが必要とする認証サービスのインターフェース。
type AuthServiceInterface interface {
	BeginOAuthRedirect(ctx context.Context, provider string, opts auth.RedirectOptions) (string, error)
	HandleCallback(ctx context.Context, state, code string) (string, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
}

// SessionSynchronizer は認証ハンドラーが必要とするSynchronizerの機能。
type SessionSynchronizer interface {
	State() authsync.State
	SignOut(ctx context.Context) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はフロントエンドのURL。リダイレクト先はこのオリジンに限定する。
	BaseURL string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	sync    SessionSynchronizer
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sync SessionSynchronizer, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		sync:    sync,
		config:  config,
		logger:  logger,
	}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login?redirect=...&scope=youtube
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var scopes []string
	for _, s := range q["scope"] {
		scopes = append(scopes, strings.Fields(strings.ReplaceAll(s, ",", " "))...)
	}

	target := safeRedirectTarget(q.Get("redirect"), h.config.BaseURL)
	consentURL, err := h.service.BeginOAuthRedirect(r.Context(), model.ProviderGoogle, auth.RedirectOptions{
		RedirectTarget: target,
		Scopes:         scopes,
	})
	if err != nil {
		h.logger.Error("failed to begin oauth redirect", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, consentURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、UIにリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 同意画面でキャンセルされた場合
	if oauthErr := q.Get("error"); oauthErr != "" {
		h.logger.Warn("oauth consent denied", slog.String("oauth_error", oauthErr))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewAuthFailedError())
		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("state e code são obrigatórios"))
		return
	}

	target, err := h.service.HandleCallback(r.Context(), state, code)
	switch {
	case errors.Is(err, auth.ErrInvalidState):
		h.logger.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOAuthStateMismatchError())
		return
	case errors.Is(err, auth.ErrLinkRequiresSignIn):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewLinkRequiresSignInError())
		return
	case err != nil:
		h.logger.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAuthFailedError())
		return
	}

	if target == "" {
		target = h.config.BaseURL
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// SignUp はemail/passwordでユーザーを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("corpo JSON inválido"))
		return
	}

	_, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("e-mail inválido"))
		return
	case errors.Is(err, auth.ErrWeakPassword):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("a senha deve ter pelo menos 8 caracteres"))
		return
	case errors.Is(err, repository.ErrEmailTaken):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewEmailTakenError())
		return
	case err != nil:
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStateResponse(h.sync.State()))
}

// SignIn はemail/passwordでサインインする。
// POST /auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("corpo JSON inválido"))
		return
	}

	_, err := h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	case err != nil:
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toStateResponse(h.sync.State()))
}

// SignOut はサインアウトする。リモートの失敗時もローカルの状態はクリアされる。
// POST /auth/logout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.SignOut(r.Context()); err != nil {
		h.logger.Error("failed to sign out", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewSignOutFailedError())
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(h.sync.State()))
}

// safeRedirectTarget はリダイレクト先をBaseURLと同じオリジンに限定する。
// 相対パスはBaseURLに連結し、それ以外はBaseURLを返す。
func safeRedirectTarget(raw, baseURL string) string {
	if raw == "" {
		return baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		ref, err := url.Parse(raw)
		if err != nil {
			return baseURL
		}
		return base.ResolveReference(ref).String()
	}

	target, err := url.Parse(raw)
	if err != nil || target.Scheme != base.Scheme || target.Host != base.Host {
		return baseURL
	}
	return target.String()
}
