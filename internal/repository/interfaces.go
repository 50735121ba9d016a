// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/torcida/internal/model"
)

var (
	// ErrProfileExists は同じIDのプロフィールが既に存在する場合のエラー。
	// 並行した初回作成で負けた側が受け取る。
	ErrProfileExists = errors.New("profile already exists")
	// ErrProfileNotFound は更新対象のプロフィールが存在しない場合のエラー。
	ErrProfileNotFound = errors.New("profile not found")
	// ErrEmailTaken は同じメールアドレスのユーザーが既に存在する場合のエラー。
	ErrEmailTaken = errors.New("email already registered")
	// ErrIdentityExists は同じprovider/provider_user_idのidentityが既に存在する場合のエラー。
	ErrIdentityExists = errors.New("identity already linked")
)

// ProfileRepository はプロフィールの永続化インターフェース。
// authsync.ProfileStore を満たす。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Create はプロフィールを作成する。既に存在する場合はErrProfileExistsを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// Update はnilでないフィールドのみを更新する。
	// 対象が存在しない場合はErrProfileNotFoundを返す。
	Update(ctx context.Context, id string, update model.ProfileUpdate) error

	// ListByTier は会員ランクで絞り込んだプロフィール一覧を作成日時の昇順で返す。
	// tierが空の場合は全件を返す。
	ListByTier(ctx context.Context, tier model.MembershipTier) ([]*model.Profile, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// メールアドレスが重複する場合はErrEmailTakenを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを追加する。
	// 同じprovider/provider_user_idが既に存在する場合はErrIdentityExistsを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// ListByUserID はユーザーに紐付いた全identityを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.StoredSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.StoredSession, error)
	// Extend は有効期限を延長する。期限切れまたは存在しない場合はfalseを返す。
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
