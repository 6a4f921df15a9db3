package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 支付准入锁
// ============================================================================
//
// 【为什么记账有乐观锁了还要这把锁？】
//
// 乐观锁挡的是余额写入的双花；这把锁挡的是同一用户重复提交时
// "查幂等 -> 建支付单" 之间的窗口：没有锁的话，两个携带相同 request_id
// 的请求可能都没查到已有支付单，各建一单（靠唯一索引兜底会让其中一个
// 以异常收场）。按用户维度加锁后，同一用户的准入流程串行，
// 不同用户互不影响。
//
// 【Redis 锁的要点】
//  - 加锁：SET key value NX EX，NX 保证互斥，EX 防止持有者崩溃后死锁
//  - 释放：Lua 脚本先验 value 再 DEL，避免误删别人的锁
// ============================================================================

var ErrLockFailed = errors.New("获取锁失败")

// Locker 准入锁抽象
// 生产环境用 Redis 实现；单机部署和测试用进程内实现
type Locker interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// Factory 按 用户+请求 生成一把锁
type Factory func(userID int64, requestID string) Locker

// RedisLock 基于 Redis 的分布式锁
type RedisLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识，释放时验证
	expiration time.Duration
}

func NewRedisLock(client *redis.Client, key, value string, expiration time.Duration) *RedisLock {
	return &RedisLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞抢锁
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 带重试的阻塞抢锁
func (l *RedisLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
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

// Unlock 释放锁，Lua 保证"验 value + DEL"原子执行
func (l *RedisLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewRedisFactory 按用户维度的支付锁工厂
// 同一用户的支付准入串行，不同用户可并发
func NewRedisFactory(client *redis.Client) Factory {
	return func(userID int64, requestID string) Locker {
		key := fmt.Sprintf("payment:lock:user:%d", userID)
		// value 用 requestID，便于追踪持有者
		return NewRedisLock(client, key, requestID, 30*time.Second)
	}
}
