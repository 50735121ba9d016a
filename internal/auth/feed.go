package auth

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/torcida/internal/model"
)

// Listener はセッション変更イベントの購読関数。
type Listener func(event model.AuthEvent, session *model.Session)

// eventFeed はセッション変更イベントを購読者へ配信する。
// 購読関数はロックを保持せずに、発行したgoroutineで順に呼び出す。
type eventFeed struct {
	mu        sync.Mutex
	listeners map[string]Listener
}

func newEventFeed() *eventFeed {
	return &eventFeed{listeners: make(map[string]Listener)}
}

func (f *eventFeed) subscribe(fn Listener) func() {
	id := uuid.New().String()

	f.mu.Lock()
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// emit はイベントを全購読者に配信する。購読者ごとにセッションの複製を渡す。
func (f *eventFeed) emit(event model.AuthEvent, session *model.Session) {
	f.mu.Lock()
	listeners := make([]Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session.Clone())
	}
}

func (f *eventFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
