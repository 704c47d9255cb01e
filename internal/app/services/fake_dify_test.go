package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/pkg/config"
)

const testAPIKey = "test-key"

// fakeDify 记录请求的 Dify 模拟服务
type fakeDify struct {
	mu         sync.Mutex
	chats      []models.ChatMessageRequest
	stops      []string
	stopUsers  []string
	feedbacks  []map[string]any
	feedbackOf []string
	histories  []string
	appCalls   map[string]int

	// stream 自定义流式响应，为空时返回 defaultFrames
	stream         func(w http.ResponseWriter, r *http.Request)
	onStop         func(taskID string)
	feedbackStatus int
	history        models.HistoryPage

	server *httptest.Server
}

var defaultFrames = []string{
	`{"event":"message","task_id":"t1","conversation_id":"c1","message_id":"m1","answer":"Hel"}`,
	`{"event":"message","task_id":"t1","conversation_id":"c1","message_id":"m1","answer":"lo"}`,
	`{"event":"message_end","task_id":"t1","conversation_id":"c1","message_id":"m1","metadata":{"retriever_resources":[{"document_name":"Guide","url":"http://guide"}]}}`,
}

func newFakeDify(t *testing.T) *fakeDify {
	f := &fakeDify{appCalls: map[string]int{}, feedbackStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat-messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
			http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var body models.ChatMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.chats = append(f.chats, body)
		custom := f.stream
		f.mu.Unlock()

		if custom != nil {
			custom(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range defaultFrames {
			writeFrame(w, frame)
		}
		writeFrame(w, "[DONE]")
	})

	mux.HandleFunc("POST /chat-messages/{taskId}/stop", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		taskID := r.PathValue("taskId")
		f.mu.Lock()
		f.stops = append(f.stops, taskID)
		f.stopUsers = append(f.stopUsers, body["user"])
		onStop := f.onStop
		f.mu.Unlock()
		if onStop != nil {
			onStop(taskID)
		}
		_, _ = w.Write([]byte(`{"result":"success"}`))
	})

	mux.HandleFunc("POST /messages/{messageId}/feedbacks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.feedbacks = append(f.feedbacks, body)
		f.feedbackOf = append(f.feedbackOf, r.PathValue("messageId"))
		status := f.feedbackStatus
		f.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, `{"code":"internal_error"}`, status)
			return
		}
		_, _ = w.Write([]byte(`{"result":"success"}`))
	})

	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.histories = append(f.histories, r.URL.RawQuery)
		page := f.history
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(page)
	})

	for _, kind := range []string{AppParameters, AppMeta, AppInfo, AppSite} {
		mux.HandleFunc("GET /"+kind, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.appCalls[kind]++
			f.mu.Unlock()
			if kind == AppMeta {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			_, _ = fmt.Fprintf(w, `{"kind":%q,"user":%q}`, kind, r.URL.Query().Get("user"))
		})
	}

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDify) client() *DifyClient {
	return NewDifyClient(config.Dify{BaseURL: f.server.URL, ApiKey: testAPIKey, User: "tester"})
}

func (f *fakeDify) setStream(fn func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = fn
}

func (f *fakeDify) chatRequests() []models.ChatMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessageRequest(nil), f.chats...)
}

func (f *fakeDify) stopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

func (f *fakeDify) setOnStop(fn func(taskID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStop = fn
}

func (f *fakeDify) setFeedbackStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackStatus = status
}

func (f *fakeDify) setHistory(page models.HistoryPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = page
}

func (f *fakeDify) stopUserList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopUsers...)
}

func (f *fakeDify) feedbackTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.feedbackOf...)
}

func (f *fakeDify) historyQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.histories...)
}

func (f *fakeDify) appCallCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appCalls[kind]
}

func (f *fakeDify) feedbackBodies() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.feedbacks...)
}

func writeFrame(w http.ResponseWriter, payload string) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}
