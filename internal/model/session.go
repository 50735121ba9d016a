package model

import (
	"sort"
	"strings"
	"time"
)

// 既知のプロバイダー名。
const (
	ProviderGoogle = "google"
	ProviderEmail  = "email"
)

// MetadataFullName はプロバイダーメタデータ内の表示名のキー。
const MetadataFullName = "full_name"

// AuthEvent は認証サービスが発行するセッション変更イベントの種別。
type AuthEvent string

const (
	// AuthEventInitialSession は購読開始時点のセッションを通知する。
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	// AuthEventSignedIn はサインイン完了を通知する。
	AuthEventSignedIn AuthEvent = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトを通知する。セッションは常にnil。
	AuthEventSignedOut AuthEvent = "SIGNED_OUT"
	// AuthEventTokenRefreshed はセッション有効期限の延長を通知する。
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	// AuthEventUserUpdated はidentity連携などユーザー情報の変更を通知する。
	AuthEventUserUpdated AuthEvent = "USER_UPDATED"
)

// Session は認証済みの利用者を表す読み取り専用の値。
// 認証サービスが所有し、変更イベントのたびに丸ごと置き換えられる。
type Session struct {
	ID     string
	UserID string
	Email  string
	// Provider はこのセッションを開始したアクティブプロバイダー。
	Provider string
	// Providers はアクティブプロバイダーと連携済みidentityを正規化した集合（ソート済み・重複なし）。
	Providers []string
	Metadata  map[string]string
	ExpiresAt time.Time
}

// NewSession はSessionを生成する。
// プロバイダー判定の入力（アクティブプロバイダーと連携identity）はここで一度だけ正規化する。
func NewSession(id, userID, email, activeProvider string, linkedProviders []string, metadata map[string]string, expiresAt time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Email:     email,
		Provider:  normalizeProvider(activeProvider),
		Providers: NormalizeProviders(activeProvider, linkedProviders),
		Metadata:  metadata,
		ExpiresAt: expiresAt,
	}
}

// NormalizeProviders はアクティブプロバイダーと連携プロバイダーを小文字化・重複排除したソート済み集合にする。
func NormalizeProviders(active string, linked []string) []string {
	seen := make(map[string]struct{}, len(linked)+1)
	out := make([]string, 0, len(linked)+1)
	for _, p := range append([]string{active}, linked...) {
		p = normalizeProvider(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// HasProvider はセッションが指定プロバイダーと紐付いているかを返す。
func (s *Session) HasProvider(provider string) bool {
	if s == nil {
		return false
	}
	provider = normalizeProvider(provider)
	for _, p := range s.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// MetadataValue はプロバイダーメタデータの値を返す。存在しない場合は空文字列。
func (s *Session) MetadataValue(key string) string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// Clone はSessionのディープコピーを返す。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Providers != nil {
		c.Providers = append([]string(nil), s.Providers...)
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
