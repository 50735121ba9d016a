// Package auth は認証バックエンド（OAuth・email/password・セッション管理）を提供する。
//
// Serviceは「現在のセッション」を1つだけ扱う。セッションハンドルはHandleStoreに保存され、
// セッションの変更はSubscribeで登録された購読者にイベントとして通知される。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/hitoshi/torcida/internal/model"
	"github.com/hitoshi/torcida/internal/repository"
)

// MinPasswordLength はサインアップ時のパスワードの最小文字数。
const MinPasswordLength = 8

var (
	// ErrInvalidState はOAuth stateが未発行・使用済み・期限切れの場合のエラー。
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrUnsupportedProvider は未対応のOAuthプロバイダーが指定された場合のエラー。
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword はパスワードが短すぎる場合のエラー。
	ErrWeakPassword = errors.New("password too short")
	// ErrLinkRequiresSignIn は同じメールアドレスの既存アカウントに自動で連携できない場合のエラー。
	// 既存アカウントにログインしてから連携し直す必要がある。
	ErrLinkRequiresSignIn = errors.New("account with this email exists; sign in to link")
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
	StateTTL      time.Duration
	Logger        *slog.Logger
}

// RedirectOptions はOAuthリダイレクト開始時の指定。
type RedirectOptions struct {
	// RedirectTarget はコールバック処理後に戻るUIのURL。
	RedirectTarget string
	// Scopes は基本スコープに追加するスコープ（"youtube"など）。
	Scopes []string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	handles     HandleStore
	config      ServiceConfig
	logger      *slog.Logger

	states *stateStore
	feed   *eventFeed
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	handles HandleStore,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		handles:     handles,
		config:      config,
		logger:      logger,
		states:      newStateStore(config.StateTTL, time.Now),
		feed:        newEventFeed(),
		now:         time.Now,
	}
}

// GetCurrentSession は保存済みのハンドルから現在のセッションを組み立てる。
// 未ログイン、またはセッションが期限切れ・削除済みの場合はnilを返す。
func (s *Service) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	handle, err := s.handles.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session handle: %w", err)
	}
	if handle == "" {
		return nil, nil
	}

	stored, err := s.sessionRepo.FindByID(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if stored == nil {
		// 期限切れまたはサーバー側で削除済み
		if err := s.handles.Clear(); err != nil {
			s.logger.Warn("セッションハンドルの削除に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		return nil, nil
	}

	return s.buildSession(ctx, stored)
}

// Subscribe はセッション変更イベントの購読を登録し、購読解除関数を返す。
func (s *Service) Subscribe(fn func(event model.AuthEvent, session *model.Session)) func() {
	return s.feed.subscribe(fn)
}

// SignOut はセッションを破棄し、SIGNED_OUTを通知する。
// セッション行の削除に失敗してもローカルのハンドルは削除し、イベントは通知する。
func (s *Service) SignOut(ctx context.Context) error {
	var errs []error

	handle, err := s.handles.Load()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to load session handle: %w", err))
	}
	if handle != "" {
		if err := s.sessionRepo.DeleteByID(ctx, handle); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete session: %w", err))
		}
	}
	if err := s.handles.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear session handle: %w", err))
	}

	s.logger.Info("user signed out")
	s.feed.emit(model.AuthEventSignedOut, nil)

	return errors.Join(errs...)
}

// BeginOAuthRedirect はOAuth同意画面のURLを返す。現在はgoogleのみ対応。
// 発行したstateにはPKCEのverifierとリダイレクト先が紐付く。
func (s *Service) BeginOAuthRedirect(ctx context.Context, provider string, opts RedirectOptions) (string, error) {
	if !strings.EqualFold(provider, model.ProviderGoogle) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	verifier := oauth2.GenerateVerifier()
	state, err := s.states.issue(verifier, opts.RedirectTarget)
	if err != nil {
		return "", err
	}

	return s.oauth.AuthCodeURL(state, verifier, opts.Scopes), nil
}

// HandleCallback はOAuthコールバックを処理し、リダイレクト先を返す。
//
//   - 連携済みのidentity: そのユーザーとしてサインインする（SIGNED_IN）
//   - ログイン中: 現在のユーザーにidentityを連携する（USER_UPDATED）
//   - 同じメールアドレスのユーザーが存在: プロバイダーがメールを確認済みで、既存ユーザーが
//     パスワードを持たない場合のみ連携してサインインする（SIGNED_IN）。それ以外はErrLinkRequiresSignIn
//   - それ以外: usersとidentitiesを作成してサインインする（SIGNED_IN）
func (s *Service) HandleCallback(ctx context.Context, state, code string) (string, error) {
	pending, ok := s.states.take(state)
	if !ok {
		return "", ErrInvalidState
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.Exchange(ctx, code, pending.verifier)
	if err != nil {
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		s.logger.Info("existing user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", info.Provider),
		)
		if _, err := s.startSession(ctx, identity.UserID, info.Provider); err != nil {
			return "", err
		}
		return pending.redirectTarget, nil
	}

	// 3. ログイン中なら現在のユーザーに連携
	current, err := s.GetCurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if current != nil {
		if err := s.linkIdentity(ctx, current.UserID, info); err != nil {
			return "", err
		}
		stored, err := s.sessionRepo.FindByID(ctx, current.ID)
		if err != nil {
			return "", fmt.Errorf("failed to find session: %w", err)
		}
		if stored == nil {
			return "", fmt.Errorf("session expired while linking identity")
		}
		updated, err := s.buildSession(ctx, stored)
		if err != nil {
			return "", err
		}
		s.logger.Info("identity linked",
			slog.String("user_id", current.UserID),
			slog.String("provider", info.Provider),
		)
		s.feed.emit(model.AuthEventUserUpdated, updated)
		return pending.redirectTarget, nil
	}

	// 4. 同じメールアドレスのユーザーに連携
	if info.Email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, info.Email)
		if err != nil {
			return "", fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			// パスワード登録のメールアドレスは所有確認をしていないため自動連携しない
			if !info.EmailVerified || existing.PasswordHash != "" {
				s.logger.Warn("identity link by email refused",
					slog.String("user_id", existing.ID),
					slog.String("provider", info.Provider),
					slog.Bool("email_verified", info.EmailVerified),
				)
				return "", ErrLinkRequiresSignIn
			}
			if err := s.linkIdentity(ctx, existing.ID, info); err != nil {
				return "", err
			}
			s.logger.Info("identity linked by email",
				slog.String("user_id", existing.ID),
				slog.String("provider", info.Provider),
			)
			if _, err := s.startSession(ctx, existing.ID, info.Provider); err != nil {
				return "", err
			}
			return pending.redirectTarget, nil
		}
	}

	// 5. 新規ユーザー: usersレコードとidentitiesレコードを同時に作成
	user, err := s.createUser(ctx, info.Email, info.Name, "", info.Provider, info.ProviderUserID)
	if err != nil {
		return "", err
	}
	if _, err := s.startSession(ctx, user.ID, info.Provider); err != nil {
		return "", err
	}
	return pending.redirectTarget, nil
}

// SignUp はemail/passwordでユーザーを登録し、サインインする。
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len([]rune(password)) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.createUser(ctx, email, strings.TrimSpace(fullName), string(hash), model.ProviderEmail, email)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user.ID, model.ProviderEmail)
}

// SignInWithPassword はemail/passwordでサインインする。
// ユーザーが存在しない場合もパスワード不一致の場合もErrInvalidCredentialsを返す。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.startSession(ctx, user.ID, model.ProviderEmail)
}

// RefreshSession は現在のセッションの有効期限を延長し、TOKEN_REFRESHEDを通知する。
// セッションが既に失効していた場合はハンドルを削除してSIGNED_OUTを通知し、nilを返す。
func (s *Service) RefreshSession(ctx context.Context) (*model.Session, error) {
	handle, err := s.handles.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session handle: %w", err)
	}
	if handle == "" {
		return nil, nil
	}

	ok, err := s.sessionRepo.Extend(ctx, handle, s.expiry())
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if !ok {
		if err := s.handles.Clear(); err != nil {
			s.logger.Warn("セッションハンドルの削除に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("session expired")
		s.feed.emit(model.AuthEventSignedOut, nil)
		return nil, nil
	}

	session, err := s.GetCurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session != nil {
		s.feed.emit(model.AuthEventTokenRefreshed, session)
	}
	return session, nil
}

// StartAutoRefresh はintervalごとにRefreshSessionを実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して継続する。
func (s *Service) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッション自動更新を停止しました")
			return
		case <-ticker.C:
			if _, err := s.RefreshSession(ctx); err != nil {
				s.logger.Error("セッションの自動更新に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// startSession はセッションを作成して保存し、SIGNED_INを通知する。
// 既存のセッションがあれば先に破棄する。
func (s *Service) startSession(ctx context.Context, userID, provider string) (*model.Session, error) {
	s.discardCurrent(ctx)

	sessionID, err := generateToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	stored := &model.StoredSession{
		ID:        sessionID,
		UserID:    userID,
		Provider:  provider,
		ExpiresAt: s.expiry(),
		CreatedAt: s.now(),
	}
	if err := s.sessionRepo.Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.handles.Save(sessionID); err != nil {
		return nil, fmt.Errorf("failed to save session handle: %w", err)
	}

	session, err := s.buildSession(ctx, stored)
	if err != nil {
		return nil, err
	}

	s.feed.emit(model.AuthEventSignedIn, session)
	return session, nil
}

// discardCurrent は保存済みのセッションがあれば削除する。失敗はログのみ。
func (s *Service) discardCurrent(ctx context.Context) {
	handle, err := s.handles.Load()
	if err != nil || handle == "" {
		return
	}
	if err := s.sessionRepo.DeleteByID(ctx, handle); err != nil {
		s.logger.Warn("以前のセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// buildSession は保存済みセッションにユーザー情報と連携identityを結合する。
func (s *Service) buildSession(ctx context.Context, stored *model.StoredSession) (*model.Session, error) {
	user, err := s.userRepo.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	identities, err := s.identRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	providers := make([]string, 0, len(identities))
	for _, ident := range identities {
		providers = append(providers, ident.Provider)
	}

	metadata := map[string]string{}
	if user.Name != "" {
		metadata[model.MetadataFullName] = user.Name
	}

	return model.NewSession(stored.ID, user.ID, user.Email, stored.Provider, providers, metadata, stored.ExpiresAt), nil
}

// createUser はusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) createUser(ctx context.Context, email, name, passwordHash, provider, providerUserID string) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: providerUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	s.logger.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)
	return user, nil
}

// linkIdentity は既存ユーザーにidentityを追加する。
func (s *Service) linkIdentity(ctx context.Context, userID string, info *OAuthUserInfo) error {
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      s.now(),
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

func (s *Service) expiry() time.Time {
	return s.now().Add(time.Duration(s.config.SessionMaxAge) * time.Second)
}

// normalizeEmail はメールアドレスを小文字化して形式を検証する。
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
