package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/torcida/internal/auth"
	"github.com/hitoshi/torcida/internal/authsync"
	"github.com/hitoshi/torcida/internal/middleware"
	"github.com/hitoshi/torcida/internal/model"
)

// --- モック定義 ---

type mockSynchronizer struct {
	mu        sync.Mutex
	state     authsync.State
	observers map[int]func(authsync.State)
	nextID    int

	refreshFn func(ctx context.Context)
	signOutFn func(ctx context.Context) error
}

func newMockSynchronizer(st authsync.State) *mockSynchronizer {
	return &mockSynchronizer{state: st, observers: map[int]func(authsync.State){}}
}

func (m *mockSynchronizer) State() authsync.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockSynchronizer) Subscribe(fn func(authsync.State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *mockSynchronizer) RefreshProfile(ctx context.Context) {
	if m.refreshFn != nil {
		m.refreshFn(ctx)
	}
}

func (m *mockSynchronizer) SignOut(ctx context.Context) error {
	var err error
	if m.signOutFn != nil {
		err = m.signOutFn(ctx)
	}
	m.set(authsync.State{})
	return err
}

// set は状態を置き換えて購読者に通知する。
func (m *mockSynchronizer) set(st authsync.State) {
	m.mu.Lock()
	m.state = st
	observers := make([]func(authsync.State), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()
	for _, o := range observers {
		o(st)
	}
}

func (m *mockSynchronizer) observerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

type mockAuthService struct {
	beginFn    func(ctx context.Context, provider string, opts auth.RedirectOptions) (string, error)
	callbackFn func(ctx context.Context, state, code string) (string, error)
	signUpFn   func(ctx context.Context, email, password, fullName string) (*model.Session, error)
	signInFn   func(ctx context.Context, email, password string) (*model.Session, error)
}

func (m *mockAuthService) BeginOAuthRedirect(ctx context.Context, provider string, opts auth.RedirectOptions) (string, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx, provider, opts)
	}
	return "https://accounts.example.com/auth", nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, state, code)
	}
	return "", nil
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, fullName)
	}
	return &model.Session{}, nil
}

func (m *mockAuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.Session{}, nil
}

type mockMemberService struct {
	listFn func(ctx context.Context, tier string) (*membersResponse, error)
}

func (m *mockMemberService) ListMembers(ctx context.Context, tier string) (*membersResponse, error) {
	if m.listFn != nil {
		return m.listFn(ctx, tier)
	}
	return &membersResponse{Members: []profileResponse{}}, nil
}

// --- compile-time interface checks ---
var _ StateServiceInterface = (*mockSynchronizer)(nil)
var _ SessionSynchronizer = (*mockSynchronizer)(nil)
var _ AuthServiceInterface = (*mockAuthService)(nil)
var _ MemberServiceInterface = (*mockMemberService)(nil)

// --- テストヘルパー ---

const (
	testBaseURL   = "http://localhost:5173"
	testCSRFToken = "csrf-test-token"
)

type routerEnv struct {
	sync    *mockSynchronizer
	auth    *mockAuthService
	members *mockMemberService
	router  http.Handler
}

func newRouterEnv(t *testing.T, st authsync.State) *routerEnv {
	t.Helper()
	env := &routerEnv{
		sync:    newMockSynchronizer(st),
		auth:    &mockAuthService{},
		members: &mockMemberService{},
	}
	env.router = NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: testBaseURL,
		Synchronizer:      env.sync,
		AuthService:       env.auth,
		AuthConfig:        AuthHandlerConfig{BaseURL: testBaseURL},
		MemberService:     env.members,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	return env
}

// do はルーターにリクエストを送る。POSTの場合はCSRFトークンを付与する。
func (e *routerEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if method == http.MethodPost {
		req.AddCookie(&http.Cookie{Name: "torcida_csrf", Value: testCSRFToken})
		req.Header.Set("X-CSRF-Token", testCSRFToken)
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func signedIn(role model.Role, youtube bool) authsync.State {
	return authsync.State{
		Session: model.NewSession("handle-1", "user-1", "ana@gmail.com", "google", nil,
			map[string]string{model.MetadataFullName: "Ana"}, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
		Profile: &model.Profile{
			ID: "user-1", FullName: "Ana", Email: "ana@gmail.com",
			Role: role, MembershipTier: model.TierOuro, YouTubeConnected: youtube,
		},
	}
}

func decodeState(t *testing.T, body io.Reader) stateResponse {
	t.Helper()
	var st stateResponse
	if err := json.NewDecoder(body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	return st
}

func decodeError(t *testing.T, body io.Reader) middleware.ErrorResponseBody {
	t.Helper()
	var e middleware.ErrorResponseBody
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	return e
}
