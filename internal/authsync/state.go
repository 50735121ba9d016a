package authsync

import "github.com/hitoshi/torcida/internal/model"

// State はSynchronizerがキャッシュしている現在の認証状態のスナップショット。
// 利用側には常にコピーが渡されるため、変更してもSynchronizerには影響しない。
type State struct {
	Session *model.Session
	Profile *model.Profile
	// Loading は起動時のセッション確認が終わるまでtrue。
	Loading bool
}

// ProfilePending はセッションはあるがプロフィールがまだ解決されていない状態かを返す。
// 2段階で更新されるため一時的に発生する正常な状態であり、エラーとして扱わないこと。
// 前のユーザーのプロフィールが残っている間も未解決として扱う。
func (st State) ProfilePending() bool {
	return st.Session != nil && st.CurrentProfile() == nil
}

// CurrentProfile はセッションのユーザーと一致するプロフィールを返す。
// 後勝ちの更新でセッションだけが先に切り替わった場合はnilを返す。
func (st State) CurrentProfile() *model.Profile {
	if st.Session == nil || st.Profile == nil || st.Profile.ID != st.Session.UserID {
		return nil
	}
	return st.Profile
}

func (st State) clone() State {
	return State{
		Session: st.Session.Clone(),
		Profile: st.Profile.Clone(),
		Loading: st.Loading,
	}
}
