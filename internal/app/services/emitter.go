package services

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// 组件事件
const (
	EventSendStart     = "sendMessage:start"
	EventSendSuccess   = "sendMessage:success"
	EventSendError     = "sendMessage:error"
	EventSendEnd       = "sendMessage:end"
	EventMessagesReset = "messages:changed"
)

// Listener 事件回调，payload 按事件不同而不同
type Listener func(payload any)

// Emitter 简单的事件分发
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string]map[int]Listener
	nextID    int
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: map[string]map[int]Listener{}}
}

// On 注册监听，返回用于 Off 的编号
func (e *Emitter) On(name string, fn Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners[name] == nil {
		e.listeners[name] = map[int]Listener{}
	}
	e.nextID++
	e.listeners[name][e.nextID] = fn
	return e.nextID
}

func (e *Emitter) Off(name string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners[name], id)
}

// Emit 同步调用所有监听者，单个监听者 panic 不影响其他监听者
func (e *Emitter) Emit(name string, payload any) {
	e.mu.RLock()
	fns := make([]Listener, 0, len(e.listeners[name]))
	for _, fn := range e.listeners[name] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("event", name).Errorf("事件监听者异常: %v", r)
				}
			}()
			fn(payload)
		}()
	}
}
