package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupInterval = 5 * time.Minute

// windowCounter はキーごとの固定時間窓の開始時刻と許可済み回数を保持する。
type windowCounter struct {
	start  time.Time
	window time.Duration
	count  int
}

// MemoryStore はプロセス内の固定時間窓カウンタでレート制限を行う。
// RedisStoreと同じく、窓の開始から時間窓が経過するとカウンタを0に戻す。
// 単一インスタンス構成向けで、複数インスタンス間では状態を共有しない。
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter

	cleanupInterval time.Duration
	now             func() time.Time
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリのクリーンアップを開始する。
// cleanupIntervalが0以下の場合は5分。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	s := &MemoryStore{
		counters:        make(map[string]*windowCounter),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Allow は現在の時間窓の回数がPolicy.Max未満なら1回分を加算して許可する。
// 拒否したリクエストは加算しない。Maxが0以下のポリシーは無効とみなし常に許可する。
func (s *MemoryStore) Allow(_ context.Context, policy Policy, key string) (Result, error) {
	if policy.Max <= 0 || policy.Window <= 0 {
		return Result{Allowed: true}, nil
	}

	id := policy.Name + ":" + key
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.counters[id]
	if !exists || !now.Before(c.start.Add(c.window)) {
		c = &windowCounter{start: now, window: policy.Window}
		s.counters[id] = c
	}

	allowed := c.count < policy.Max
	if allowed {
		c.count++
	}

	return Result{
		Allowed:    allowed,
		Limit:      policy.Max,
		Remaining:  policy.Max - c.count,
		ResetAfter: c.start.Add(c.window).Sub(now),
	}, nil
}

// Len は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(s.now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は時間窓が終わったエントリを削除する。
// 終わった窓は次のAllowで作り直されるため、削除しても判定は変わらない。
func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.counters {
		if !now.Before(c.start.Add(c.window)) {
			delete(s.counters, id)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
