package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/app/repositories"
	"dify-chat-agent/internal/app/services"
	"dify-chat-agent/internal/pkg/code"
	"dify-chat-agent/internal/pkg/storage"
)

const helloFrames = "data: {\"event\":\"message\",\"task_id\":\"t1\",\"conversation_id\":\"c1\",\"message_id\":\"m1\",\"answer\":\"**Hel\"}\n\n" +
	"data: {\"event\":\"message\",\"task_id\":\"t1\",\"conversation_id\":\"c1\",\"message_id\":\"m1\",\"answer\":\"lo**\"}\n\n" +
	"data: {\"event\":\"message_end\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"metadata\":{\"retriever_resources\":[{\"title\":\"Guide\",\"url\":\"http://guide\"}]}}\n\n" +
	"data: [DONE]\n\n"

type stubBackend struct {
	mu        sync.Mutex
	frames    string
	err       error
	feedbacks []models.Rating
	stops     []string

	// stream 自定义响应体，为空时返回 frames
	stream func(ctx context.Context) io.ReadCloser
	onStop func()
}

func (b *stubBackend) StreamChat(ctx context.Context, _ *models.ChatMessageRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.stream != nil {
		return b.stream(ctx), nil
	}
	return io.NopCloser(strings.NewReader(b.frames)), nil
}

func (b *stubBackend) StopTask(_ context.Context, taskID string) error {
	b.mu.Lock()
	b.stops = append(b.stops, taskID)
	onStop := b.onStop
	b.mu.Unlock()
	if onStop != nil {
		onStop()
	}
	return nil
}

func (b *stubBackend) stopCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stops...)
}

func (b *stubBackend) SendFeedback(_ context.Context, _ string, rating models.Rating, _ string) *models.ActionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedbacks = append(b.feedbacks, rating)
	return &models.ActionResult{Result: models.ResultSuccess}
}

func (b *stubBackend) GetMessages(_ context.Context, conversationID, _ string, limit int) (*models.HistoryPage, error) {
	return &models.HistoryPage{Limit: limit, Data: []models.HistoryMessage{
		{ID: "h1", ConversationID: conversationID, Query: "old question", Answer: "old answer"},
	}}, nil
}

func (b *stubBackend) AppInfo(_ context.Context, kind string) map[string]any {
	return map[string]any{"kind": kind}
}

func (b *stubBackend) User() string {
	return "tester"
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Err  string          `json:"err"`
	Data json.RawMessage `json:"data"`
}

func setUp(t *testing.T, opts services.WidgetOptions) (*gin.Engine, *stubBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := &stubBackend{frames: helloFrames}
	sessions := services.NewSessionManager(func() *services.Widget {
		return services.NewWidget(backend, opts)
	})
	return SetUp(sessions, backend, nil), backend
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func createSession(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(r, http.MethodPost, "/chat/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		SessionID string                    `json:"sessionId"`
		App       map[string]map[string]any `json:"app"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	require.NotEmpty(t, data.SessionID)
	assert.Equal(t, "parameters", data.App["parameters"]["kind"])
	return data.SessionID
}

// sseEvents 解析 SSE 响应体，[DONE] 记为 type "done"
func sseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		payload, ok := strings.CutPrefix(strings.TrimSpace(block), "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			events = append(events, map[string]any{"type": "done"})
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []map[string]any) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	return types
}

func TestHealth(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{})
	w := do(r, http.MethodGet, "/chat/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, code.Success, decode(t, w).Code)
}

func TestSendMessageStreamsEvents(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{Formatter: services.NewFormatter(true)})
	id := createSession(t, r)

	w := do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	events := sseEvents(t, w.Body.String())
	assert.Equal(t, []string{
		models.EventBindCancel, models.EventAnswer, models.EventAnswer, models.EventFinalize, "done",
	}, eventTypes(events))
	assert.Equal(t, "t1", events[0]["taskId"])
	assert.Equal(t, "**Hello**", events[2]["text"])
	assert.Contains(t, events[2]["html"], "<strong>Hello</strong>")

	final := events[3]
	assert.Equal(t, "m1", final["messageId"])
	assert.Equal(t, "c1", final["conversationId"])
	assert.Equal(t, "**Hello**", final["answer"])
	assert.Len(t, final["resources"], 1)

	w = do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/messages", nil)
	var turns []models.ConversationTurn
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &turns))
	assert.Equal(t, []models.ConversationTurn{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "**Hello**", ID: "m1"},
	}, turns)
}

func TestSendMessageBackendFailure(t *testing.T) {
	r, backend := setUp(t, services.WidgetOptions{})
	backend.err = errors.New("connection refused")
	id := createSession(t, r)

	w := do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "hi"})
	require.Equal(t, http.StatusOK, w.Code)

	events := sseEvents(t, w.Body.String())
	assert.Equal(t, []string{models.EventAnswer, models.EventFinalize, models.EventError, "done"}, eventTypes(events))
	assert.Equal(t, true, events[1]["localId"])
	assert.Contains(t, events[2]["message"], "connection refused")
}

func TestSendMessageClientDisconnect(t *testing.T) {
	r, backend := setUp(t, services.WidgetOptions{})
	id := createSession(t, r)

	stopped := make(chan struct{})
	bound := make(chan struct{})
	upstreamErr := make(chan error, 1)
	backend.onStop = func() { close(stopped) }
	backend.stream = func(ctx context.Context) io.ReadCloser {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "data: {\"event\":\"message\",\"task_id\":\"t1\",\"conversation_id\":\"c1\",\"message_id\":\"m1\",\"answer\":\"Hel\"}\n\n")
			// 第二块被读走时第一块已经处理完，任务ID已绑定
			_, _ = io.WriteString(pw, "data: {\"event\":\"message\",\"task_id\":\"t1\",\"message_id\":\"m1\",\"answer\":\"lo\"}\n\n")
			close(bound)
			<-stopped
			upstreamErr <- ctx.Err()
			_, _ = io.WriteString(pw, "data: {\"event\":\"message\",\"task_id\":\"t1\",\"message_id\":\"m1\",\"answer\":\" world\"}\n\n")
			_ = pw.Close()
		}()
		return pr
	}

	data, _ := json.Marshal(map[string]any{"query": "hi"})
	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/chat/v1/sessions/"+id+"/messages", bytes.NewReader(data)).WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		r.ServeHTTP(rec, req)
	}()
	<-bound
	cancel()
	<-served

	assert.Equal(t, []string{"t1"}, backend.stopCalls())
	assert.NoError(t, <-upstreamErr)

	events := sseEvents(t, rec.Body.String())
	types := eventTypes(events)
	assert.NotContains(t, types, models.EventError)
	assert.Contains(t, types, models.EventFinalize)

	w := do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/messages", nil)
	var turns []models.ConversationTurn
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &turns))
	require.Len(t, turns, 2)
	assert.True(t, strings.HasPrefix(turns[1].Content, "Hel"), turns[1].Content)
	assert.NotContains(t, turns[1].Content, "world")
	assert.Equal(t, "m1", turns[1].ID)
}

func TestSendMessageRejected(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{ReadOnly: true})
	id := createSession(t, r)

	w := do(r, http.MethodPost, "/chat/v1/sessions/missing/messages", map[string]any{"query": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, code.NotFound, decode(t, w).Code)

	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, code.ParamErr, decode(t, w).Code)

	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "first"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "second"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, code.Forbidden, decode(t, w).Code)
}

func TestFeedbackToggle(t *testing.T) {
	r, backend := setUp(t, services.WidgetOptions{})
	id := createSession(t, r)
	path := "/chat/v1/sessions/" + id + "/messages/m1/feedbacks"

	var data struct {
		Result string `json:"result"`
		Rating string `json:"rating"`
	}
	w := do(r, http.MethodPost, path, map[string]any{"rating": "like", "toggle": true})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, "like", data.Rating)

	w = do(r, http.MethodPost, path, map[string]any{"rating": "like", "toggle": true})
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, models.ResultSuccess, data.Result)
	assert.Empty(t, data.Rating)

	w = do(r, http.MethodPost, path, map[string]any{"rating": nil})
	assert.Equal(t, code.Success, decode(t, w).Code)
	assert.Equal(t, []models.Rating{models.RatingLike, models.RatingNone, models.RatingNone}, backend.feedbacks)

	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages/msg_local/feedbacks", map[string]any{"rating": "like"})
	assert.Equal(t, code.BackendErr, decode(t, w).Code)
}

func TestStopResetHistory(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{})
	id := createSession(t, r)

	w := do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/stop", nil)
	assert.JSONEq(t, `{"stopped":false}`, string(decode(t, w).Data))

	do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "hi"})
	w = do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/reset", nil)
	var reset struct {
		ConversationID string         `json:"conversationId"`
		Parameters     map[string]any `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &reset))
	assert.Empty(t, reset.ConversationID)
	assert.Equal(t, "parameters", reset.Parameters["kind"])

	w = do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.HistoryPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.Equal(t, 5, page.Limit)

	w = do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/messages", nil)
	var turns []models.ConversationTurn
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &turns))
	assert.Equal(t, "old question", turns[0].Content)
}

func TestAppInfo(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{})

	w := do(r, http.MethodGet, "/chat/v1/app/site", nil)
	assert.JSONEq(t, `{"kind":"site"}`, string(decode(t, w).Data))

	w = do(r, http.MethodGet, "/chat/v1/app/secrets", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecords(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.Migrate(db))
	repo := repositories.NewConversationRecordRepository(db)

	gin.SetMode(gin.TestMode)
	backend := &stubBackend{frames: helloFrames}
	sessions := services.NewSessionManager(func() *services.Widget {
		return services.NewWidget(backend, services.WidgetOptions{Recorder: repo})
	})
	r := SetUp(sessions, backend, repo)
	id := createSession(t, r)
	do(r, http.MethodPost, "/chat/v1/sessions/"+id+"/messages", map[string]any{"query": "hi"})

	w := do(r, http.MethodGet, "/chat/v1/sessions/"+id+"/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []models.ConversationRecord
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "hi", records[0].Content)
	assert.Equal(t, "m1", records[1].MessageID)
	assert.Equal(t, "c1", records[1].ConversationID)

	w = do(r, http.MethodGet, "/chat/v1/conversations/c1/records?limit=1&offset=1", nil)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, models.RoleAssistant, records[0].Role)

	w = do(r, http.MethodGet, "/chat/v1/conversations/c1/records?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsDisabled(t *testing.T) {
	r, _ := setUp(t, services.WidgetOptions{})
	w := do(r, http.MethodGet, "/chat/v1/conversations/c1/records", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
