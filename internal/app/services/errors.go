package services

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy 上一次发送尚未结束
	ErrBusy = errors.New("another message is still being answered")
	// ErrReadOnly 只读模式下对话已有内容
	ErrReadOnly = errors.New("conversation is read-only")
	// ErrEmptyQuery 问题为空
	ErrEmptyQuery = errors.New("query is empty")
	// ErrAborted 发送前的拦截器取消了本次发送
	ErrAborted = errors.New("send aborted by interceptor")
	// ErrSessionNotFound 会话不存在或已过期
	ErrSessionNotFound = errors.New("session not found")
)

// APIError 后端返回非 2xx
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, body)
}
