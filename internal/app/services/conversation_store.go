package services

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/models"
)

// ConversationStore 当前对话的消息记录，并发安全
type ConversationStore struct {
	mu        sync.RWMutex
	turns     []models.ConversationTurn
	listeners map[int]func([]models.ConversationTurn)
	nextID    int
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		turns:     []models.ConversationTurn{},
		listeners: map[int]func([]models.ConversationTurn){},
	}
}

// AppendTurn 追加一条消息，不会失败
func (s *ConversationStore) AppendTurn(role models.Role, content string, id string) {
	s.mu.Lock()
	s.turns = append(s.turns, models.ConversationTurn{Role: role, Content: content, ID: id})
	s.mu.Unlock()
}

// Reset 清空记录，每次调用通知所有监听者一次
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	s.turns = []models.ConversationTurn{}
	listeners := make([]func([]models.ConversationTurn), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		notify(fn)
	}
}

// ToArray 返回记录的副本
func (s *ConversationStore) ToArray() []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// OnChange 注册 Reset 通知，返回取消注册函数
func (s *ConversationStore) OnChange(fn func([]models.ConversationTurn)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func notify(fn func([]models.ConversationTurn)) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("对话记录监听者异常: %v", r)
		}
	}()
	fn([]models.ConversationTurn{})
}
