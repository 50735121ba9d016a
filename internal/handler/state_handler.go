package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/torcida/internal/authsync"
)

// DefaultKeepAliveInterval はSSEのコメント行（keep-alive）の送信間隔。
const DefaultKeepAliveInterval = 25 * time.Second

// StateServiceInterface は状態ハンドラーが必要とするSynchronizerの機能。
type StateServiceInterface interface {
	State() authsync.State
	Subscribe(fn func(authsync.State)) (unsubscribe func())
	RefreshProfile(ctx context.Context)
}

// StateHandler は認証状態をUIに公開するHTTPハンドラー。
type StateHandler struct {
	service   StateServiceInterface
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewStateHandler はStateHandlerを生成する。
func NewStateHandler(service StateServiceInterface, logger *slog.Logger) *StateHandler {
	return &StateHandler{
		service:   service,
		logger:    logger,
		keepAlive: DefaultKeepAliveInterval,
	}
}

// GetState は現在の認証状態のスナップショットを返す。
// GET /api/state
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(h.service.State()))
}

// RefreshProfile はプロフィールを再解決し、更新後のスナップショットを返す。
// POST /api/profile/refresh
func (h *StateHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	h.service.RefreshProfile(r.Context())
	writeJSON(w, http.StatusOK, toStateResponse(h.service.State()))
}

// Events は状態が変わるたびにスナップショットをServer-Sent Eventsで配信する。
// 接続直後に現在の状態を1件送る。通知が連続した場合は最新の状態のみを送る。
// GET /api/state/events
func (h *StateHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming unsupported by response writer")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	notify := make(chan struct{}, 1)
	unsubscribe := h.service.Subscribe(func(authsync.State) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeStateEvent(w, h.service.State()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			if err := writeStateEvent(w, h.service.State()); err != nil {
				h.logger.Debug("SSE client disconnected", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeStateEvent はstateイベントを1件書き込む。
func writeStateEvent(w http.ResponseWriter, st authsync.State) error {
	data, err := json.Marshal(toStateResponse(st))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}
