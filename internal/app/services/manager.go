package services

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WidgetFactory 为新会话创建组件
type WidgetFactory func() *Widget

// SessionManager 中继的会话表（多实例管理器）
type SessionManager struct {
	sessions sync.Map // sessionID -> *Widget
	factory  WidgetFactory
}

func NewSessionManager(factory WidgetFactory) *SessionManager {
	return &SessionManager{factory: factory}
}

// Create 创建新会话
func (m *SessionManager) Create() *Widget {
	w := m.factory()
	m.sessions.Store(w.ID(), w)
	log.Infof("[Session %s] 创建会话", w.ID())
	return w
}

func (m *SessionManager) Get(id string) (*Widget, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Widget), nil
}

// Remove 删除会话，正在进行的发送会被停止
func (m *SessionManager) Remove(id string) bool {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*Widget).Stop()
	return true
}

func (m *SessionManager) Len() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CleanupIdle 清理超过 maxAge 没有活动且空闲的会话，返回清理数量
func (m *SessionManager) CleanupIdle(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	m.sessions.Range(func(key, value any) bool {
		w := value.(*Widget)
		if !w.Busy() && w.LastActive().Before(cutoff) {
			m.sessions.Delete(key)
			removed++
		}
		return true
	})
	if removed > 0 {
		log.Infof("清理空闲会话 %d 个", removed)
	}
	return removed
}

// RunJanitor 定期清理空闲会话，stop 关闭后退出
func (m *SessionManager) RunJanitor(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CleanupIdle(maxAge)
		}
	}
}
