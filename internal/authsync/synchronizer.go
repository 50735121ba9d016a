// Package authsync は認証セッションとメンバープロフィールの同期を提供する。
//
// Synchronizerは認証サービスのセッション変更イベントを購読し、
// 「現在のセッション」と「現在のプロフィール」をプロセス内で1つだけ保持する。
// プロフィールが存在しなければ既定値で作成し、Googleでログインしたセッションでは
// youtube_connectedフラグを自動で有効にする。
//
// キャッシュの更新は完了順（後勝ち）で行い、呼び出しの順序付けはしない。
// リモート呼び出しの失敗はすべてログに記録して吸収し、呼び出し元には伝播しない。
package authsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/torcida/internal/model"
)

// AuthService は認証サービスのうちSynchronizerが利用する部分。
type AuthService interface {
	// GetCurrentSession は現在のセッションを返す。未ログインの場合はnilを返す。
	GetCurrentSession(ctx context.Context) (*model.Session, error)
	// Subscribe はセッション変更イベントの購読を登録し、購読解除関数を返す。
	Subscribe(fn func(event model.AuthEvent, session *model.Session)) (unsubscribe func())
	// SignOut はリモートのセッションを破棄する。
	SignOut(ctx context.Context) error
}

// ProfileStore はプロフィールの永続化ストア。
type ProfileStore interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.Profile) error
	// Update はプロフィールを部分更新する。
	Update(ctx context.Context, id string, update model.ProfileUpdate) error
}

// NameSanitizer はプロバイダーメタデータ由来の表示名を無害化する。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// Options はSynchronizerの任意設定。
type Options struct {
	Logger    *slog.Logger
	Policy    CallPolicy
	Sanitizer NameSanitizer
	Metrics   MetricsRecorder
}

// Synchronizer はセッションとプロフィールのキャッシュを所有する状態コンテナ。
type Synchronizer struct {
	auth      AuthService
	profiles  ProfileStore
	logger    *slog.Logger
	policy    CallPolicy
	sanitizer NameSanitizer
	metrics   MetricsRecorder

	mu              sync.Mutex
	state           State
	closed          bool
	observers       map[string]func(State)
	unsubscribeAuth func()

	// background はバックグラウンドで実行中のリモート書き込み。
	background sync.WaitGroup
}

// New はSynchronizerを生成する。Loadingはtrueで始まる。
// opts.Policyがゼロ値の場合はDefaultCallPolicyを使用する。
func New(auth AuthService, profiles ProfileStore, opts Options) *Synchronizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == (CallPolicy{}) {
		opts.Policy = DefaultCallPolicy()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Synchronizer{
		auth:      auth,
		profiles:  profiles,
		logger:    opts.Logger,
		policy:    opts.Policy,
		sanitizer: opts.Sanitizer,
		metrics:   opts.Metrics,
		state:     State{Loading: true},
		observers: make(map[string]func(State)),
	}
}

// Start はセッション変更イベントの購読を登録し、続けてBootstrapを実行する。
// イベント経由のプロフィール解決にはctxを使用する。
func (s *Synchronizer) Start(ctx context.Context) {
	unsubscribe := s.auth.Subscribe(func(event model.AuthEvent, session *model.Session) {
		s.OnSessionChanged(ctx, event, session)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribeAuth = unsubscribe
	s.mu.Unlock()

	s.Bootstrap(ctx)
}

// State は現在のキャッシュのスナップショットを返す。副作用はない。
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe は状態変更の通知先を登録し、登録解除関数を返す。
// fnはセッションまたはプロフィールが変わるたびに新しいスナップショットで呼ばれる。
// fnは状態を変更した呼び出し元のgoroutineで同期的に実行される。
func (s *Synchronizer) Subscribe(fn func(State)) func() {
	id := uuid.New().String()

	s.mu.Lock()
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Bootstrap は起動時に1回だけ呼ぶ。
// 現在のセッションを取得し、存在すればプロフィールを解決する。
// 成否にかかわらず最後にLoadingをfalseにする。
func (s *Synchronizer) Bootstrap(ctx context.Context) {
	defer s.finishLoading()

	var session *model.Session
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.auth.GetCurrentSession(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("現在のセッションの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		s.metrics.RecordRemoteFailure(OpGetSession)
		return
	}

	s.setSession(session)
	if session != nil {
		s.resolveProfile(ctx, session)
	}
}

// OnSessionChanged はセッション変更イベントを処理する。
// セッションを置き換え、非nilならプロフィールを解決し、nilならプロフィールをクリアする。
// 連続して呼ばれても各呼び出しは独立しており、後に完了したものが残る。
func (s *Synchronizer) OnSessionChanged(ctx context.Context, event model.AuthEvent, session *model.Session) {
	attrs := []any{slog.String("event", string(event))}
	if session != nil {
		attrs = append(attrs, slog.String("user_id", session.UserID))
	}
	s.logger.Info("auth event", attrs...)
	s.metrics.RecordSessionEvent(string(event))

	s.setSession(session)
	if session != nil {
		s.resolveProfile(ctx, session)
	} else {
		s.setProfile(nil)
	}
	s.finishLoading()
}

// SignOut はリモートのサインアウトを要求し、結果にかかわらずローカルの状態をクリアする。
// 戻り値はリモートのサインアウトの結果のみを表す。
func (s *Synchronizer) SignOut(ctx context.Context) error {
	err := s.policy.Once(ctx, s.auth.SignOut)
	if err != nil {
		s.logger.Error("リモートのサインアウトに失敗しました。ローカルの状態はクリアします",
			slog.String("error", err.Error()),
		)
		s.metrics.RecordRemoteFailure(OpSignOut)
	}

	s.mutate(func(st *State) {
		st.Session = nil
		st.Profile = nil
		st.Loading = false
	})
	return err
}

// RefreshProfile はキャッシュ中のセッションがあればプロフィールを再解決する。
// セッションがなければ何もしない。
func (s *Synchronizer) RefreshProfile(ctx context.Context) {
	s.mu.Lock()
	session := s.state.Session.Clone()
	s.mu.Unlock()

	if session == nil {
		return
	}
	s.resolveProfile(ctx, session)
}

// Close はイベント購読を解除し、バックグラウンドの書き込みの完了を待つ。
// Close後に完了したプロフィール解決の結果は破棄される。
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribeAuth
	s.unsubscribeAuth = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.background.Wait()
}

func (s *Synchronizer) setSession(session *model.Session) {
	s.mutate(func(st *State) {
		st.Session = session.Clone()
	})
}

func (s *Synchronizer) setProfile(profile *model.Profile) {
	s.mutate(func(st *State) {
		st.Profile = profile.Clone()
	})
}

func (s *Synchronizer) finishLoading() {
	s.mu.Lock()
	loading := s.state.Loading
	s.mu.Unlock()
	if !loading {
		return
	}
	s.mutate(func(st *State) {
		st.Loading = false
	})
}

// mutate はロック下で状態を更新し、ロック外で各通知先にスナップショットを渡す。
// Close後の更新は破棄する。
func (s *Synchronizer) mutate(fn func(st *State)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	snapshot := s.state.clone()
	observers := make([]func(State), 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snapshot.clone())
	}
}
