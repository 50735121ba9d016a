package authsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/torcida/internal/model"
)

// resolveProfile はセッションのユーザーIDに対するプロフィールを解決してキャッシュする。
//
//  1. プロフィールストアから取得する（失敗時は未作成として扱う）
//  2. 未作成なら既定値のプロフィールを構築して作成を試みる
//  3. セッションがgoogleと紐付いていてyoutube_connectedがfalseなら、
//     ローカルを先に更新し、リモートの更新はバックグラウンドで行う
//
// 取得と作成の両方に失敗した場合は、確からしい情報がないためキャッシュを更新しない。
func (s *Synchronizer) resolveProfile(ctx context.Context, session *model.Session) {
	logger := s.logger.With(slog.String("user_id", session.UserID))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("プロフィールの解決中にpanicが発生しました",
				slog.Any("panic", rec),
			)
			s.metrics.RecordResolution(OutcomeUnresolved)
		}
	}()

	// 1. 既存プロフィールの取得
	profile, lookupErr := s.findProfile(ctx, session.UserID)
	if lookupErr != nil {
		logger.Warn("プロフィールの取得に失敗しました。未作成として扱います",
			slog.String("error", lookupErr.Error()),
		)
		s.metrics.RecordRemoteFailure(OpProfileLookup)
	}

	outcome := OutcomeFound

	// 2. 未作成なら既定値で作成
	if profile == nil {
		candidate := model.NewDefaultProfile(session.UserID, session.Email, s.displayName(session))

		err := s.policy.Once(ctx, func(ctx context.Context) error {
			return s.profiles.Create(ctx, candidate)
		})
		switch {
		case err == nil:
			logger.Info("プロフィールを作成しました")
			outcome = OutcomeCreated
		case lookupErr != nil:
			logger.Error("プロフィールの取得と作成の両方に失敗しました。キャッシュは更新しません",
				slog.String("error", err.Error()),
			)
			s.metrics.RecordRemoteFailure(OpProfileInsert)
			s.metrics.RecordResolution(OutcomeUnresolved)
			return
		default:
			// 並行した作成に負けた場合でも再取得はしない。次回の解決で正しい行に置き換わる。
			logger.Warn("プロフィールの作成に失敗しました。ローカルで構築したプロフィールを使用します",
				slog.String("error", err.Error()),
			)
			s.metrics.RecordRemoteFailure(OpProfileInsert)
			outcome = OutcomeCreateFailed
		}
		profile = candidate
	}

	// 3. googleログインならyoutube連携を自動で有効化
	if session.HasProvider(model.ProviderGoogle) && !profile.YouTubeConnected {
		logger.Info("googleログインを検出しました。youtube連携を有効にします")

		promoted := profile.Clone()
		promoted.YouTubeConnected = true
		s.setProfile(promoted)
		s.promoteYouTubeLink(ctx, session.UserID)

		s.metrics.RecordLinkPromotion()
		s.metrics.RecordResolution(outcome)
		return
	}

	s.setProfile(profile)
	s.metrics.RecordResolution(outcome)
}

// findProfile は再試行付きでプロフィールを取得する。
func (s *Synchronizer) findProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var profile *model.Profile
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		p, err := s.profiles.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to find profile: %w", err)
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// promoteYouTubeLink はyoutube_connected=trueのリモート更新をバックグラウンドで実行する。
// 結果は呼び出し元に返さず、失敗はログに記録するのみ。
func (s *Synchronizer) promoteYouTubeLink(ctx context.Context, userID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.background.Done()

		connected := true
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			return s.profiles.Update(ctx, userID, model.ProfileUpdate{YouTubeConnected: &connected})
		})
		if err != nil {
			s.logger.Error("youtube連携フラグの更新に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordRemoteFailure(OpProfileUpdate)
		}
	}()
}

// displayName はセッションメタデータから表示名を取り出す。
// 無害化後に空になった場合はNewDefaultProfileがフォールバック名を使う。
func (s *Synchronizer) displayName(session *model.Session) string {
	name := session.MetadataValue(model.MetadataFullName)
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeName(name)
	}
	return strings.TrimSpace(name)
}
