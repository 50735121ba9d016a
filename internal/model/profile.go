package model

import (
	"fmt"
	"time"
)

// Role はプロフィールの権限ロール。
type Role string

const (
	RoleUser   Role = "user"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid はロールが定義済みの値かを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// MembershipTier はチャンネルメンバーシップの段階。
type MembershipTier string

const (
	TierFree     MembershipTier = "free"
	TierBronze   MembershipTier = "bronze"
	TierPrata    MembershipTier = "prata"
	TierOuro     MembershipTier = "ouro"
	TierDiamante MembershipTier = "diamante"
)

// Valid はティアが定義済みの値かを返す。
func (t MembershipTier) Valid() bool {
	switch t {
	case TierFree, TierBronze, TierPrata, TierOuro, TierDiamante:
		return true
	}
	return false
}

// ParseMembershipTier は文字列をMembershipTierに変換する。
func ParseMembershipTier(s string) (MembershipTier, error) {
	t := MembershipTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown membership tier: %q", s)
	}
	return t, nil
}

// DefaultFullName はメタデータに表示名がない場合のフォールバック。
const DefaultFullName = "Torcedor"

// Profile はユーザーIDをキーとする永続的なメンバー情報。
// IDは作成後に変更されない。
type Profile struct {
	ID               string
	FullName         string
	Email            string
	Role             Role
	MembershipTier   MembershipTier
	YouTubeConnected bool
	CreatedAt        time.Time
}

// NewDefaultProfile は初回観測時に作成するデフォルトのプロフィールを生成する。
// role=user, tier=free, youtube_connected=false。
func NewDefaultProfile(id, email, fullName string) *Profile {
	if fullName == "" {
		fullName = DefaultFullName
	}
	return &Profile{
		ID:               id,
		FullName:         fullName,
		Email:            email,
		Role:             RoleUser,
		MembershipTier:   TierFree,
		YouTubeConnected: false,
		CreatedAt:        time.Now().UTC(),
	}
}

// IsMember は有料ティアのメンバーかを返す。
func (p *Profile) IsMember() bool {
	return p != nil && p.MembershipTier != "" && p.MembershipTier != TierFree
}

// IsAdmin は管理者ロールかを返す。
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Clone はProfileのコピーを返す。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfileUpdate はプロフィールの部分更新を表す。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	FullName         *string
	Role             *Role
	MembershipTier   *MembershipTier
	YouTubeConnected *bool
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Role == nil && u.MembershipTier == nil && u.YouTubeConnected == nil
}

// Apply は部分更新をプロフィールのコピーに適用して返す。
func (u ProfileUpdate) Apply(p *Profile) *Profile {
	c := p.Clone()
	if c == nil {
		return nil
	}
	if u.FullName != nil {
		c.FullName = *u.FullName
	}
	if u.Role != nil {
		c.Role = *u.Role
	}
	if u.MembershipTier != nil {
		c.MembershipTier = *u.MembershipTier
	}
	if u.YouTubeConnected != nil {
		c.YouTubeConnected = *u.YouTubeConnected
	}
	return c
}
