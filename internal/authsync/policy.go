package authsync

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultCallTimeout  = 10 * time.Second
	defaultCallAttempts = 3
	defaultRetryBackoff = 200 * time.Millisecond
	defaultMaxBackoff   = 5 * time.Second
)

// CallPolicy はリモート呼び出し（認証サービス・プロフィールストア）のタイムアウトと再試行の方針。
// 冪等な呼び出し（取得・youtube連携フラグの更新）はDoで再試行し、
// 作成とサインアウトはOnceで1回だけ実行する。
type CallPolicy struct {
	Timeout    time.Duration // 1回の呼び出しのタイムアウト。0以下なら無制限
	Attempts   int           // Doでの最大試行回数。1未満は1として扱う
	Backoff    time.Duration // 初回の再試行待ち時間。試行ごとに2倍
	MaxBackoff time.Duration // 再試行待ち時間の上限
}

// DefaultCallPolicy はデフォルトの呼び出し方針を返す。
// タイムアウト10秒、最大3回、再試行待ちは200msから2倍ずつ最大5秒。
func DefaultCallPolicy() CallPolicy {
	return CallPolicy{
		Timeout:    defaultCallTimeout,
		Attempts:   defaultCallAttempts,
		Backoff:    defaultRetryBackoff,
		MaxBackoff: defaultMaxBackoff,
	}
}

// Once はopをタイムアウト付きで1回だけ実行する。
func (p CallPolicy) Once(ctx context.Context, op func(ctx context.Context) error) error {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	return op(callCtx)
}

// Do はopを最大Attempts回まで実行する。
// 親コンテキストがキャンセルされた場合は再試行せずに直前のエラーを返す。
func (p CallPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = p.Once(ctx, op); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		delay := p.CalculateBackoff(attempt - 1)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempt(s): %w", attempt, err)
		case <-timer.C:
		}
	}

	if attempts > 1 {
		return fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
	}
	return err
}

// CalculateBackoff は再試行回数に基づく指数バックオフの待ち時間を返す。
func (p CallPolicy) CalculateBackoff(retries int) time.Duration {
	delay := p.Backoff
	for i := 0; i < retries; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

func (p CallPolicy) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}
