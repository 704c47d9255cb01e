// Package streamtest 提供记录渲染调用的 RenderSink，供测试使用
package streamtest

import (
	"fmt"
	"sync"

	"dify-chat-agent/internal/app/stream"
)

// Call 一次渲染调用
type Call struct {
	Method string
	Text   string
	Final  *stream.Finalization
}

func (c Call) String() string {
	if c.Final != nil {
		return fmt.Sprintf("%s(%q)", c.Method, c.Final.Answer)
	}
	return fmt.Sprintf("%s(%q)", c.Method, c.Text)
}

// Recorder 按顺序记录所有调用
type Recorder struct {
	mu       sync.Mutex
	surfaces int
	calls    []Call
	errors   []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) CreateAssistantSurface() stream.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces++
	return r.surfaces
}

func (r *Recorder) ShowThinking(_ stream.Handle, text string) {
	r.record(Call{Method: "ShowThinking", Text: text})
}

func (r *Recorder) UpsertAnswer(_ stream.Handle, fullText string) {
	r.record(Call{Method: "UpsertAnswer", Text: fullText})
}

func (r *Recorder) Finalize(_ stream.Handle, f stream.Finalization) {
	r.record(Call{Method: "Finalize", Final: &f})
}

func (r *Recorder) BindCancel(_ stream.Handle, taskID string) {
	r.record(Call{Method: "BindCancel", Text: taskID})
}

func (r *Recorder) ShowError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) Surfaces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Methods 只返回调用的方法名
func (r *Recorder) Methods() []string {
	calls := r.Calls()
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Method)
	}
	return names
}

// Finals 所有 Finalize 调用的参数
func (r *Recorder) Finals() []stream.Finalization {
	var finals []stream.Finalization
	for _, c := range r.Calls() {
		if c.Final != nil {
			finals = append(finals, *c.Final)
		}
	}
	return finals
}

// LastAnswer 最后一次 UpsertAnswer 的全文
func (r *Recorder) LastAnswer() string {
	calls := r.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == "UpsertAnswer" {
			return calls[i].Text
		}
	}
	return ""
}

func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
