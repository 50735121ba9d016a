package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/model"
)

func TestHealth(t *testing.T) {
	env := newRouterEnv(t, authsync.State{})

	w := env.do(http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newRouterEnv(t, authsync.State{})

	w := env.do(http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestGetState_Loading(t *testing.T) {
	env := newRouterEnv(t, authsync.State{Loading: true})

	w := env.do(http.MethodGet, "/api/state", "")

	st := decodeState(t, w.Body)
	if !st.Loading || st.Session != nil || st.Profile != nil {
		t.Errorf("state = %+v, want loading only", st)
	}
}

func TestGetState_SignedIn(t *testing.T) {
	env := newRouterEnv(t, signedIn(model.RoleMember, true))

	w := env.do(http.MethodGet, "/api/state", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	st := decodeState(t, w.Body)
	if st.Session == nil || st.Session.UserID != "user-1" || st.Session.FullName != "Ana" {
		t.Errorf("session = %+v", st.Session)
	}
	if len(st.Session.Providers) != 1 || st.Session.Providers[0] != "google" {
		t.Errorf("providers = %v, want [google]", st.Session.Providers)
	}
	if st.Profile == nil || st.Profile.MembershipTier != "ouro" || !st.Profile.YouTubeConnected {
		t.Errorf("profile = %+v", st.Profile)
	}
	if st.ProfilePending {
		t.Error("profile_pending should be false")
	}
	if strings.Contains(w.Body.String(), "handle-1") {
		t.Error("session handle must not be exposed")
	}
}

func TestGetState_ProfilePending(t *testing.T) {
	st := signedIn(model.RoleUser, false)
	st.Profile = nil
	env := newRouterEnv(t, st)

	got := decodeState(t, env.do(http.MethodGet, "/api/state", "").Body)

	if !got.ProfilePending || got.Profile != nil {
		t.Errorf("state = %+v, want profile_pending", got)
	}
}

func TestGetState_PreviousUsersProfileNotExposed(t *testing.T) {
	st := signedIn(model.RoleAdmin, true)
	st.Session = model.NewSession("handle-2", "user-2", "bia@gmail.com", "email", nil, nil,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	env := newRouterEnv(t, st)

	got := decodeState(t, env.do(http.MethodGet, "/api/state", "").Body)

	if got.Profile != nil {
		t.Errorf("profile = %+v, want nil while the new user's profile is pending", got.Profile)
	}
	if !got.ProfilePending {
		t.Error("profile_pending should be true")
	}
	if w := env.do(http.MethodGet, "/api/admin/members", ""); w.Code != http.StatusForbidden {
		t.Errorf("admin status = %d, want 403", w.Code)
	}
}

func TestWriteState_MatchesAPIShape(t *testing.T) {
	var buf strings.Builder
	if err := WriteState(&buf, signedIn(model.RoleAdmin, true)); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got := decodeState(t, strings.NewReader(buf.String()))
	if got.Session == nil || got.Session.UserID != "user-1" {
		t.Errorf("session = %+v", got.Session)
	}
	if got.Profile == nil || got.Profile.Role != "admin" {
		t.Errorf("profile = %+v", got.Profile)
	}
	if strings.Contains(buf.String(), "handle-1") {
		t.Error("session handle must not be exposed")
	}
}

func TestRefreshProfile_RequiresSession(t *testing.T) {
	env := newRouterEnv(t, authsync.State{})
	env.sync.refreshFn = func(ctx context.Context) {
		t.Error("RefreshProfile should not be called when signed out")
	}

	w := env.do(http.MethodPost, "/api/profile/refresh", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRefreshProfile_ReturnsUpdatedState(t *testing.T) {
	env := newRouterEnv(t, signedIn(model.RoleUser, false))
	env.sync.refreshFn = func(ctx context.Context) {
		env.sync.set(signedIn(model.RoleUser, true))
	}

	w := env.do(http.MethodPost, "/api/profile/refresh", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if st := decodeState(t, w.Body); !st.Profile.YouTubeConnected {
		t.Error("expected refreshed profile in response")
	}
}

func TestRefreshProfile_RequiresCSRFToken(t *testing.T) {
	env := newRouterEnv(t, signedIn(model.RoleUser, false))

	req := httptest.NewRequest(http.MethodPost, "/api/profile/refresh", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// readEvent はSSEストリームからstateイベントを1件読み取る。
func readEvent(t *testing.T, r *bufio.Reader) stateResponse {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
		if line == "" && data != "" {
			break
		}
	}
	var st stateResponse
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		t.Fatalf("invalid event data %q: %v", data, err)
	}
	return st
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	env := newRouterEnv(t, authsync.State{Loading: true})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/state/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if first := readEvent(t, reader); !first.Loading {
		t.Errorf("first event = %+v, want loading", first)
	}

	// 購読登録を待ってから状態を変更する
	deadline := time.Now().Add(time.Second)
	for env.sync.observerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	env.sync.set(signedIn(model.RoleUser, true))

	second := readEvent(t, reader)
	if second.Session == nil || second.Profile == nil || !second.Profile.YouTubeConnected {
		t.Errorf("second event = %+v, want signed in", second)
	}

	cancel()
	deadline = time.Now().Add(time.Second)
	for env.sync.observerCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := env.sync.observerCount(); n != 0 {
		t.Errorf("observers after disconnect = %d, want 0", n)
	}
}

func TestEvents_KeepAlive(t *testing.T) {
	sync := newMockSynchronizer(authsync.State{})
	h := NewStateHandler(sync, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	h.keepAlive = 10 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader)

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read keep-alive: %v", err)
	}
	if !strings.HasPrefix(line, ": keep-alive") {
		t.Errorf("line = %q, want keep-alive comment", line)
	}
}
