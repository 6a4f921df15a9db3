package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// localLockManager 进程内锁表，语义与 Redis 锁对齐（含持有者验证）
// 单机部署（config lock_mode: local）和测试使用
type localLockManager struct {
	mu   sync.Mutex
	held map[string]string // key -> 持有者 value
}

func (m *localLockManager) tryAcquire(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false
	}
	m.held[key] = value
	return true
}

func (m *localLockManager) release(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.held[key]; ok && holder == value {
		delete(m.held, key)
	}
}

// LocalLock 进程内锁
type LocalLock struct {
	manager *localLockManager
	key     string
	value   string
}

func (l *LocalLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		if l.manager.tryAcquire(l.key, l.value) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *LocalLock) Unlock(ctx context.Context) error {
	l.manager.release(l.key, l.value)
	return nil
}

// NewLocalFactory 进程内锁工厂，同一工厂内共享一张锁表
func NewLocalFactory() Factory {
	manager := &localLockManager{held: make(map[string]string)}
	return func(userID int64, requestID string) Locker {
		return &LocalLock{
			manager: manager,
			key:     fmt.Sprintf("payment:lock:user:%d", userID),
			value:   requestID,
		}
	}
}
