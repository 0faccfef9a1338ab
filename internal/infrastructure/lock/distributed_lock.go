package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - value 为持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本保证“检查 + 删除”原子执行
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
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

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 按用户维度的提现锁
// ============================================================================

// UserLocker 同一用户的提现申请串行执行，不同用户互不影响
//
// 锁只包住数据库事务，不包含任何支付网关调用
type UserLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewUserLocker(client *redis.Client) *UserLocker {
	return &UserLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

// WithdrawLockKey 提现锁的 key
func WithdrawLockKey(userID string) string {
	return fmt.Sprintf("wallet:lock:withdraw:%s", userID)
}

// LockUser 获取用户提现锁，返回释放函数
func (u *UserLocker) LockUser(ctx context.Context, userID string) (func(), error) {
	l := NewDistributedLock(u.client, WithdrawLockKey(userID), uuid.NewString(), u.expiration)
	if err := l.Lock(ctx, u.retryInterval, u.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 请求 ctx 可能已取消，释放锁使用独立的短超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, nil
}
