// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// stateContextKey はリクエストコンテキストに認証状態のスナップショットを格納するためのキー。
var stateContextKey = contextKey("auth_state")

// StateReader は現在の認証状態を返す。authsync.Synchronizerが満たす。
type StateReader interface {
	State() authsync.State
}

// NewSessionMiddleware はリクエスト開始時点の認証状態のスナップショットを
// リクエストコンテキストに注入するミドルウェアを返す。
// 未ログインでもリクエストは通す。認可はRequireSession/RequireAdminで行う。
func NewSessionMiddleware(reader StateReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithState(r.Context(), reader.State())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession はログイン中でなければ401を返すミドルウェア。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := StateFromContext(r.Context())
		if !ok || st.Session == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin はキャッシュ中のプロフィールがadminでなければ拒否するミドルウェア。
// プロフィールが未解決の間や、セッションと別ユーザーのプロフィールが残っている間も拒否する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := StateFromContext(r.Context())
		if !ok || st.Session == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
			return
		}
		profile := st.CurrentProfile()
		if profile == nil || profile.Role != model.RoleAdmin {
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StateFromContext はリクエストコンテキストから認証状態を取得する。
func StateFromContext(ctx context.Context) (authsync.State, bool) {
	st, ok := ctx.Value(stateContextKey).(authsync.State)
	return st, ok
}

// ContextWithState はコンテキストに認証状態を注入する。
func ContextWithState(ctx context.Context, st authsync.State) context.Context {
	return context.WithValue(ctx, stateContextKey, st)
}

// UserIDFromContext はリクエストコンテキストからログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	st, ok := StateFromContext(ctx)
	if !ok || st.Session == nil || st.Session.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return st.Session.UserID, nil
}
