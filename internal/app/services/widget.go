package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/app/stream"
	"dify-chat-agent/pkg/config"
	"dify-chat-agent/pkg/util"
)

const localIDPrefix = "msg_"

// Interceptor 发送前调用，可以修改请求。返回 false 或错误时取消发送，
// 超时（context.DeadlineExceeded）视为放行。
type Interceptor func(ctx context.Context, r *models.ChatMessageRequest) (bool, error)

// TurnRecorder 对话记录持久化
type TurnRecorder interface {
	AppendTurns(sessionID, conversationID string, turns []models.ConversationTurn) error
	UpdateRating(messageID string, rating models.Rating) error
}

type WidgetOptions struct {
	ConversationID string
	Inputs         map[string]string
	ReadOnly       bool
	HookTimeout    time.Duration
	Formatter      Formatter
	Gate           Gate
	Recorder       TurnRecorder
}

// OptionsFromConfig 由配置生成组件选项
func OptionsFromConfig(conf config.Dify) WidgetOptions {
	return WidgetOptions{
		ConversationID: conf.ConversationID,
		Inputs:         conf.Inputs,
		ReadOnly:       conf.ReadOnly,
		HookTimeout:    conf.HookTimeout,
		Formatter:      NewFormatter(conf.Markdown),
	}
}

// Widget 一个聊天组件实例：一段对话、一个发送锁、一组拦截器和事件监听
type Widget struct {
	id          string
	backend     Backend
	store       *ConversationStore
	emitter     *Emitter
	gate        Gate
	formatter   Formatter
	recorder    TurnRecorder
	inputs      map[string]string
	readOnly    bool
	hookTimeout time.Duration
	configured  string

	mu             sync.Mutex
	interceptors   []Interceptor
	conversationID string
	canceller      *stream.Canceller
	sending        bool
	epoch          uint64
	ratings        map[string]models.Rating
	localIDs       map[string]bool
	appInfo        map[string]map[string]any
	lastActive     time.Time
}

func NewWidget(backend Backend, opts WidgetOptions) *Widget {
	w := &Widget{
		id:             uuid.NewString(),
		backend:        backend,
		store:          NewConversationStore(),
		emitter:        NewEmitter(),
		gate:           opts.Gate,
		formatter:      opts.Formatter,
		recorder:       opts.Recorder,
		inputs:         maps.Clone(opts.Inputs),
		readOnly:       opts.ReadOnly,
		hookTimeout:    opts.HookTimeout,
		configured:     opts.ConversationID,
		conversationID: opts.ConversationID,
		ratings:        map[string]models.Rating{},
		localIDs:       map[string]bool{},
		appInfo:        map[string]map[string]any{},
		lastActive:     time.Now(),
	}
	if w.gate == nil {
		w.gate = &LocalGate{}
	}
	if w.formatter == nil {
		w.formatter = PlainFormatter{}
	}
	return w
}

func (w *Widget) ID() string {
	return w.id
}

func (w *Widget) Store() *ConversationStore {
	return w.store
}

func (w *Widget) Formatter() Formatter {
	return w.formatter
}

func (w *Widget) On(name string, fn Listener) int {
	return w.emitter.On(name, fn)
}

func (w *Widget) Off(name string, id int) {
	w.emitter.Off(name, id)
}

// Use 追加拦截器，按注册顺序执行
func (w *Widget) Use(hook Interceptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interceptors = append(w.interceptors, hook)
}

func (w *Widget) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// Busy 是否有发送在进行，从拿到发送锁开始算，包括等待拦截器的阶段
func (w *Widget) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sending
}

func (w *Widget) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// AppInfo 最近一次获取的应用信息
func (w *Widget) AppInfo(kind string) map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.appInfo[kind])
}

// Send 发送一条消息并把回答渲染到 sink，直到回答结束才返回。
// 传输失败时回答仍会收尾，错误同时通过 ErrorRenderer 展示并返回。
func (w *Widget) Send(ctx context.Context, msg models.SendMessageRequest, sink stream.RenderSink) (*stream.Outcome, error) {
	query := strings.TrimSpace(msg.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if w.readOnly && w.store.Len() > 0 {
		return nil, ErrReadOnly
	}

	release, err := w.gate.TryAcquire(ctx, w.ConversationID())
	if err != nil {
		return nil, err
	}
	defer release()
	epoch := w.beginSend()
	defer w.endSend()

	w.emitter.Emit(EventSendStart, query)
	defer w.emitter.Emit(EventSendEnd, query)

	r := w.prepare(query, msg)
	if err := w.intercept(ctx, r); err != nil {
		w.emitter.Emit(EventSendError, err)
		return nil, err
	}

	canceller := stream.NewCanceller(w.backend.StopTask)
	if !w.attach(canceller, epoch) {
		w.emitter.Emit(EventSendError, ErrAborted)
		return nil, fmt.Errorf("%w: conversation was reset", ErrAborted)
	}
	defer w.setCanceller(nil)

	logger := log.WithFields(log.Fields{"session_id": w.id, "conversation_id": r.ConversationID})
	logger.Debugf("发送消息: %s", util.GetJson(r))

	body, err := w.backend.StreamChat(ctx, r)
	if err != nil {
		logger.Errorf("请求后端失败: %v", err)
		body = failedBody{err: err}
	}
	localID := localIDPrefix + uuid.NewString()
	outcome, err := stream.Consume(body, &localIDSink{RenderSink: sink, localID: localID}, canceller)
	_ = body.Close()
	withLocalID(&outcome.Final, localID)

	// 停止调用在后台发出，等它返回再结束，调用方退出时不会把它丢掉
	if outcome.Reason == stream.ReasonCancelled {
		canceller.Wait()
	}

	w.record(query, r.ConversationID, outcome, epoch)

	if err != nil {
		logger.Errorf("读取回答失败: %v", err)
		if er, ok := sink.(stream.ErrorRenderer); ok {
			er.ShowError(err.Error())
		}
		w.emitter.Emit(EventSendError, err)
		return outcome, err
	}
	w.emitter.Emit(EventSendSuccess, outcome)
	return outcome, nil
}

// prepare 输入合并顺序：表单输入，然后配置的输入覆盖同名键
func (w *Widget) prepare(query string, msg models.SendMessageRequest) *models.ChatMessageRequest {
	inputs := map[string]string{}
	maps.Copy(inputs, msg.Inputs)
	maps.Copy(inputs, w.inputs)
	return &models.ChatMessageRequest{
		Query:          query,
		Inputs:         inputs,
		ResponseMode:   models.ResponseModeStreaming,
		ConversationID: w.ConversationID(),
		User:           w.backend.User(),
		Files:          msg.Files,
	}
}

func (w *Widget) intercept(ctx context.Context, r *models.ChatMessageRequest) error {
	w.mu.Lock()
	hooks := slices.Clone(w.interceptors)
	w.mu.Unlock()

	for i, hook := range hooks {
		hctx, cancel := w.hookContext(ctx)
		ok, err := hook(hctx, r)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				log.Warnf("拦截器 %d 超时，继续发送", i)
				continue
			}
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		if !ok {
			return ErrAborted
		}
	}
	return nil
}

func (w *Widget) hookContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.hookTimeout > 0 {
		return context.WithTimeout(ctx, w.hookTimeout)
	}
	return context.WithCancel(ctx)
}

// record 保存一轮问答。发送期间执行过 Reset 时这一轮属于旧对话，
// 不再写入内存记录，也不会锁定会话ID，只按旧会话持久化。
func (w *Widget) record(query, requested string, outcome *stream.Outcome, epoch uint64) {
	final := outcome.Final
	user, assistant := outcome.Turns(query, final.MessageID)

	w.mu.Lock()
	stale := w.epoch != epoch
	var conversationID string
	if stale {
		conversationID = cmp.Or(final.ConversationID, requested)
	} else {
		if w.conversationID == "" && final.ConversationID != "" {
			w.conversationID = final.ConversationID
		}
		if final.LocalID {
			w.localIDs[final.MessageID] = true
		}
		conversationID = w.conversationID
	}
	w.mu.Unlock()

	if stale {
		log.WithField("session_id", w.id).Info("发送期间对话已重置，丢弃本轮记录")
	} else {
		w.store.AppendTurn(user.Role, user.Content, user.ID)
		w.store.AppendTurn(assistant.Role, assistant.Content, assistant.ID)
	}

	if w.recorder != nil {
		if err := w.recorder.AppendTurns(w.id, conversationID, []models.ConversationTurn{user, assistant}); err != nil {
			log.WithField("session_id", w.id).Errorf("保存对话记录失败: %v", err)
		}
	}
}

// attach 登记本次发送的取消控制，准备阶段已经被 Reset 时返回 false
func (w *Widget) attach(c *stream.Canceller, epoch uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		return false
	}
	w.canceller = c
	return true
}

func (w *Widget) setCanceller(c *stream.Canceller) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.canceller = c
}

// beginSend 标记发送开始，返回当前的重置代数
func (w *Widget) beginSend() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sending = true
	w.lastActive = time.Now()
	return w.epoch
}

func (w *Widget) endSend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sending = false
	w.lastActive = time.Now()
}

// Stop 停止正在进行的发送，没有发送时返回 false
func (w *Widget) Stop() bool {
	w.mu.Lock()
	c := w.canceller
	w.mu.Unlock()
	if c == nil {
		return false
	}
	return c.RequestStop()
}

// Reset 开始新对话：停止当前发送，清空记录，重新获取应用参数
func (w *Widget) Reset(ctx context.Context) {
	w.mu.Lock()
	w.epoch++
	inflight := w.canceller
	w.conversationID = w.configured
	w.ratings = map[string]models.Rating{}
	w.localIDs = map[string]bool{}
	w.lastActive = time.Now()
	w.mu.Unlock()

	if inflight != nil {
		inflight.RequestStop()
	}
	w.store.Reset()
	params := w.backend.AppInfo(ctx, AppParameters)
	w.mu.Lock()
	w.appInfo[AppParameters] = params
	w.mu.Unlock()

	w.emitter.Emit(EventMessagesReset, nil)
}

// LoadHistory 读取当前会话的历史消息并替换内存中的记录
func (w *Widget) LoadHistory(ctx context.Context, firstID string, limit int) (*models.HistoryPage, error) {
	page, err := w.backend.GetMessages(ctx, w.ConversationID(), firstID, limit)
	if err != nil {
		return nil, err
	}

	w.store.Reset()
	w.mu.Lock()
	for _, m := range page.Data {
		if m.Feedback != nil {
			w.ratings[m.ID] = models.Rating(m.Feedback.Rating)
		}
	}
	w.mu.Unlock()
	for _, m := range page.Data {
		w.store.AppendTurn(models.RoleUser, m.Query, "")
		w.store.AppendTurn(models.RoleAssistant, m.Answer, m.ID)
	}
	w.emitter.Emit(EventMessagesReset, page)
	return page, nil
}

// Bootstrap 并发获取应用信息，已配置会话ID时同时加载历史。
// 应用信息获取失败不影响组件使用，只有历史加载的错误会返回。
func (w *Widget) Bootstrap(ctx context.Context) (map[string]map[string]any, error) {
	kinds := []string{AppParameters, AppMeta, AppInfo, AppSite}
	results := make([]map[string]any, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			results[i] = w.backend.AppInfo(gctx, kind)
			return nil
		})
	}
	if w.ConversationID() != "" {
		g.Go(func() error {
			_, err := w.LoadHistory(gctx, "", 0)
			return err
		})
	}
	err := g.Wait()

	info := make(map[string]map[string]any, len(kinds))
	w.mu.Lock()
	for i, kind := range kinds {
		info[kind] = results[i]
		w.appInfo[kind] = results[i]
	}
	w.mu.Unlock()
	return info, err
}

// Feedback 提交反馈，rating 为空表示撤销。本地生成的消息ID不会发请求。
func (w *Widget) Feedback(ctx context.Context, messageID string, rating models.Rating, content string) *models.ActionResult {
	w.mu.Lock()
	local := w.localIDs[messageID] || strings.HasPrefix(messageID, localIDPrefix)
	w.mu.Unlock()
	if local {
		return models.ErrorResult("message was not acknowledged by the server")
	}

	result := w.backend.SendFeedback(ctx, messageID, rating, content)
	if !result.OK() {
		return result
	}
	w.mu.Lock()
	if rating == models.RatingNone {
		delete(w.ratings, messageID)
	} else {
		w.ratings[messageID] = rating
	}
	w.mu.Unlock()

	if w.recorder != nil {
		if err := w.recorder.UpdateRating(messageID, rating); err != nil {
			log.WithField("message_id", messageID).Errorf("保存反馈失败: %v", err)
		}
	}
	return result
}

// ToggleFeedback 再次点击同一个反馈即撤销
func (w *Widget) ToggleFeedback(ctx context.Context, messageID string, rating models.Rating) (*models.ActionResult, models.Rating) {
	effective := rating
	if rating != models.RatingNone && w.Rating(messageID) == rating {
		effective = models.RatingNone
	}
	return w.Feedback(ctx, messageID, effective, ""), effective
}

// Rating 消息当前的反馈
func (w *Widget) Rating(messageID string) models.Rating {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ratings[messageID]
}

// failedBody 请求阶段就失败时，让读取流程按传输错误收尾
type failedBody struct {
	err error
}

func (b failedBody) Read([]byte) (int, error) {
	return 0, b.err
}

func (b failedBody) Close() error {
	return nil
}

// localIDSink 服务端没有给出消息ID时用本地ID收尾
type localIDSink struct {
	stream.RenderSink
	localID string
}

func (s *localIDSink) Finalize(h stream.Handle, f stream.Finalization) {
	withLocalID(&f, s.localID)
	s.RenderSink.Finalize(h, f)
}

func (s *localIDSink) BindCancel(h stream.Handle, taskID string) {
	if binder, ok := s.RenderSink.(stream.CancelBinder); ok {
		binder.BindCancel(h, taskID)
	}
}

func withLocalID(f *stream.Finalization, localID string) {
	if f.MessageID == "" {
		f.MessageID = localID
		f.LocalID = true
	}
}
