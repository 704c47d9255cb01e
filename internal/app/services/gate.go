package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/pkg/metrics"
)

const lockPrefix = "chat-agent:send:"

// Gate 保证同一时间只有一个发送在进行
type Gate interface {
	// TryAcquire 获取失败返回 ErrBusy，成功时返回释放函数
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

// LocalGate 进程内的发送锁
type LocalGate struct {
	busy atomic.Bool
}

func (g *LocalGate) TryAcquire(_ context.Context, _ string) (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		metrics.BusyRejectedTotal.Inc()
		return nil, ErrBusy
	}
	return func() { g.busy.Store(false) }, nil
}

// Busy 是否有发送在进行
func (g *LocalGate) Busy() bool {
	return g.busy.Load()
}

// sendLock 分布式锁，*redsync.Mutex 实现了它
type sendLock interface {
	TryLockContext(ctx context.Context) error
	ExtendContext(ctx context.Context) (bool, error)
	UnlockContext(ctx context.Context) (bool, error)
}

// RedisGate 在本地锁之外再持有一个按会话区分的分布式锁，
// 多个中继副本不会同时向同一个会话发送。回答没有时长限制，
// 持有期间每过半个过期时间续期一次。
type RedisGate struct {
	local   LocalGate
	expiry  time.Duration
	newLock func(name string) sendLock
}

func NewRedisGate(rs *redsync.Redsync, expiry time.Duration) *RedisGate {
	g := &RedisGate{expiry: expiry}
	if rs != nil {
		g.newLock = func(name string) sendLock {
			return rs.NewMutex(name,
				redsync.WithExpiry(expiry),
				redsync.WithTries(1),
			)
		}
	}
	return g
}

func (g *RedisGate) TryAcquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := g.local.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	// 新会话还没有会话ID，只能依赖本地锁
	if key == "" || g.newLock == nil {
		return releaseLocal, nil
	}

	mutex := g.newLock(lockPrefix + key)
	if err := mutex.TryLockContext(ctx); err != nil {
		releaseLocal()
		metrics.BusyRejectedTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.keepAlive(mutex, key, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := mutex.UnlockContext(ctx); err != nil {
				log.WithField("conversation_id", key).Warnf("释放会话锁失败: %v", err)
			}
			releaseLocal()
		})
	}, nil
}

// keepAlive 定期续期直到 stop 关闭
func (g *RedisGate) keepAlive(mutex sendLock, key string, stop <-chan struct{}) {
	interval := g.expiry / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := mutex.ExtendContext(ctx)
			cancel()
			if err != nil || !ok {
				log.WithField("conversation_id", key).Warnf("会话锁续期失败: %v", err)
			}
		}
	}
}
