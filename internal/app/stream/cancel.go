package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultStopTimeout = 10 * time.Second

// StopFunc 通知服务端停止生成
type StopFunc func(ctx context.Context, taskID string) error

// Canceller 一次发送的取消控制。读取循环在每次读块和每次折叠之前检查 Active，
// 正在等待的读取不会被打断，只会跳过下一轮。
type Canceller struct {
	active atomic.Bool

	mu     sync.Mutex
	taskID string

	stop        StopFunc
	stopTimeout time.Duration
	pending     sync.WaitGroup
}

func NewCanceller(stop StopFunc) *Canceller {
	c := &Canceller{stop: stop, stopTimeout: defaultStopTimeout}
	c.active.Store(true)
	return c
}

// Active 发送是否仍在进行
func (c *Canceller) Active() bool {
	return c.active.Load()
}

// Bind 绑定任务ID，只有第一次生效
func (c *Canceller) Bind(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taskID != "" || taskID == "" {
		return false
	}
	c.taskID = taskID
	return true
}

func (c *Canceller) TaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskID
}

// RequestStop 请求停止。已绑定任务ID时异步调用停止接口，失败只记录日志。
// 返回 false 表示发送已经结束或已被停止。
func (c *Canceller) RequestStop() bool {
	// 置位和登记停止调用在同一把锁内完成，Wait 看到的要么是完整的登记，要么没有停止
	c.mu.Lock()
	if !c.active.CompareAndSwap(true, false) {
		c.mu.Unlock()
		return false
	}
	taskID := c.taskID
	if taskID == "" {
		c.mu.Unlock()
		log.Info("任务ID未知，仅停止本地读取")
		return true
	}
	if c.stop == nil {
		c.mu.Unlock()
		return true
	}
	c.pending.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
		defer cancel()
		if err := c.stop(ctx, taskID); err != nil {
			log.WithField("task_id", taskID).Warnf("停止响应失败: %v", err)
			return
		}
		log.WithField("task_id", taskID).Info("已通知服务端停止响应")
	}()
	return true
}

// Release 发送已结束，之后的 RequestStop 不再生效
func (c *Canceller) Release() {
	c.active.Store(false)
}

// Wait 等待已发出的停止调用返回
func (c *Canceller) Wait() {
	// 进行中的 RequestStop 登记完成后再等待
	c.mu.Lock()
	c.mu.Unlock() //nolint:staticcheck // SA2001
	c.pending.Wait()
}
