package authsync

import (
	"testing"

	"github.com/hitoshi/torcida/internal/model"
)

func TestState_CurrentProfile(t *testing.T) {
	session := &model.Session{ID: "s-2", UserID: "u2"}
	own := &model.Profile{ID: "u2", Role: model.RoleUser}
	previous := &model.Profile{ID: "u1", Role: model.RoleAdmin}

	tests := []struct {
		name        string
		state       State
		wantProfile *model.Profile
		wantPending bool
	}{
		{"signed out", State{}, nil, false},
		{"signed out with stale profile", State{Profile: previous}, nil, false},
		{"matching profile", State{Session: session, Profile: own}, own, false},
		{"not resolved yet", State{Session: session}, nil, true},
		{"previous user's profile", State{Session: session, Profile: previous}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.CurrentProfile(); got != tt.wantProfile {
				t.Errorf("CurrentProfile() = %+v, want %+v", got, tt.wantProfile)
			}
			if got := tt.state.ProfilePending(); got != tt.wantPending {
				t.Errorf("ProfilePending() = %v, want %v", got, tt.wantPending)
			}
		})
	}
}
