package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultStateTTL はOAuth stateの有効期間。
const DefaultStateTTL = 10 * time.Minute

// pendingRedirect は同意画面から戻るまでに保持するOAuthフローの情報。
type pendingRedirect struct {
	verifier       string
	redirectTarget string
	expiresAt      time.Time
}

// stateStore は発行済みのOAuth stateを保持する。
// stateは1回だけ取り出せる。
type stateStore struct {
	mu      sync.Mutex
	pending map[string]pendingRedirect
	ttl     time.Duration
	now     func() time.Time
}

func newStateStore(ttl time.Duration, now func() time.Time) *stateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &stateStore{
		pending: make(map[string]pendingRedirect),
		ttl:     ttl,
		now:     now,
	}
}

// issue は新しいstateを発行し、verifierとリダイレクト先を紐付けて保存する。
func (s *stateStore) issue(verifier, redirectTarget string) (string, error) {
	state, err := generateToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()
	s.pending[state] = pendingRedirect{
		verifier:       verifier,
		redirectTarget: redirectTarget,
		expiresAt:      s.now().Add(s.ttl),
	}
	return state, nil
}

// take はstateに紐付いた情報を取り出して削除する。
// 未発行・使用済み・期限切れの場合はfalseを返す。
func (s *stateStore) take(state string) (pendingRedirect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return pendingRedirect{}, false
	}
	delete(s.pending, state)

	if s.now().After(p.expiresAt) {
		return pendingRedirect{}, false
	}
	return p, true
}

func (s *stateStore) evictExpiredLocked() {
	now := s.now()
	for k, p := range s.pending {
		if now.After(p.expiresAt) {
			delete(s.pending, k)
		}
	}
}

// generateToken は暗号的に安全なランダム値を16進文字列で返す。
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
