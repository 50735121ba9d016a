// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証バックエンドに登録されたユーザーを表す。
// パスワードでサインアップしたユーザーのみPasswordHashを持つ。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdP（またはemail/password）との紐付け情報を表す。
// 1ユーザーに複数のidentityを紐付けられる（例: email で登録後に google を連携）。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// StoredSession はsessionsテーブルに永続化されたログインセッションを表す。
// Providerはこのセッションを開始したログイン手段（アクティブプロバイダー）。
type StoredSession struct {
	ID        string
	UserID    string
	Provider  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
