package handler

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/model"
	"github.com/hitoshi/torcida/internal/repository"
)

// sessionResponse はUIに公開するセッション情報。セッションハンドル自体は含めない。
type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Provider  string    `json:"provider"`
	Providers []string  `json:"providers"`
	FullName  string    `json:"full_name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// profileResponse はUIに公開するプロフィール情報。
type profileResponse struct {
	ID               string    `json:"id"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	MembershipTier   string    `json:"membership_tier"`
	YouTubeConnected bool      `json:"youtube_connected"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
}

// stateResponse は認証状態のスナップショット。
// profile_pendingはセッションがありプロフィールが未解決の一時的な状態を表す。
type stateResponse struct {
	Session        *sessionResponse `json:"session"`
	Profile        *profileResponse `json:"profile"`
	Loading        bool             `json:"loading"`
	ProfilePending bool             `json:"profile_pending"`
}

// membersResponse は会員一覧のレスポンス。
type membersResponse struct {
	Members []profileResponse `json:"members"`
	Count   int               `json:"count"`
}

// toStateResponse はSynchronizerの状態をhandlerのレスポンス型に変換する。
func toStateResponse(st authsync.State) stateResponse {
	return stateResponse{
		Session:        toSessionResponse(st.Session),
		Profile:        toProfileResponse(st.CurrentProfile()),
		Loading:        st.Loading,
		ProfilePending: st.ProfilePending(),
	}
}

// WriteState は状態のスナップショットを/api/stateと同じ形式のJSONでwに書き出す。
func WriteState(w io.Writer, st authsync.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toStateResponse(st))
}

func toSessionResponse(s *model.Session) *sessionResponse {
	if s == nil {
		return nil
	}
	providers := s.Providers
	if providers == nil {
		providers = []string{}
	}
	return &sessionResponse{
		UserID:    s.UserID,
		Email:     s.Email,
		Provider:  s.Provider,
		Providers: providers,
		FullName:  s.MetadataValue(model.MetadataFullName),
		ExpiresAt: s.ExpiresAt,
	}
}

func toProfileResponse(p *model.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:               p.ID,
		FullName:         p.FullName,
		Email:            p.Email,
		Role:             string(p.Role),
		MembershipTier:   string(p.MembershipTier),
		YouTubeConnected: p.YouTubeConnected,
		CreatedAt:        p.CreatedAt,
	}
}

// MemberServiceAdapter はrepository.ProfileRepositoryをMemberServiceInterfaceに適合させるアダプタ。
type MemberServiceAdapter struct {
	profiles repository.ProfileRepository
}

// NewMemberServiceAdapter はMemberServiceAdapterを生成する。
func NewMemberServiceAdapter(profiles repository.ProfileRepository) *MemberServiceAdapter {
	return &MemberServiceAdapter{profiles: profiles}
}

// ListMembers はティアで絞り込んだ会員一覧をhandlerレスポンス型で返す。
// tierが空の場合は全件を返す。未知のティアはAPIErrorを返す。
func (a *MemberServiceAdapter) ListMembers(ctx context.Context, tier string) (*membersResponse, error) {
	var filter model.MembershipTier
	if tier != "" {
		t, err := model.ParseMembershipTier(tier)
		if err != nil {
			return nil, model.NewInvalidTierError(tier)
		}
		filter = t
	}

	profiles, err := a.profiles.ListByTier(ctx, filter)
	if err != nil {
		return nil, err
	}

	members := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		members = append(members, *toProfileResponse(p))
	}
	return &membersResponse{Members: members, Count: len(members)}, nil
}
