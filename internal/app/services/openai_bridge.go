package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/pkg/metrics"
	"dify-chat-agent/pkg/config"
	"dify-chat-agent/pkg/util"
)

const defaultHistoryLimit = 20

// OpenAIBridge 用 openai 兼容接口模拟 Dify 的流式对话，输出与 Dify 相同格式的事件帧。
// 对话历史只保存在内存中。
type OpenAIBridge struct {
	client openai.Client
	conf   config.Openai
	user   string

	mu      sync.Mutex
	history map[string][]models.HistoryMessage
	tasks   map[string]context.CancelFunc
}

func NewOpenAIBridge(conf config.Openai, user string, opts ...option.RequestOption) *OpenAIBridge {
	reqOpts := []option.RequestOption{option.WithAPIKey(conf.ApiKey)}
	if conf.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(conf.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIBridge{
		client:  openai.NewClient(reqOpts...),
		conf:    conf,
		user:    user,
		history: map[string][]models.HistoryMessage{},
		tasks:   map[string]context.CancelFunc{},
	}
}

func (b *OpenAIBridge) User() string {
	return b.user
}

func (b *OpenAIBridge) StreamChat(ctx context.Context, r *models.ChatMessageRequest) (io.ReadCloser, error) {
	conversationID := r.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	taskID := uuid.NewString()
	messageID := uuid.NewString()

	msgs := b.messages(conversationID, r.Query)
	sctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.tasks[taskID] = cancel
	b.mu.Unlock()

	pr, pw := io.Pipe()
	frame := func(event string) map[string]any {
		return map[string]any{
			"event":           event,
			"task_id":         taskID,
			"conversation_id": conversationID,
			"message_id":      messageID,
		}
	}

	go func() {
		defer func() {
			cancel()
			b.mu.Lock()
			delete(b.tasks, taskID)
			b.mu.Unlock()
		}()

		// 先发一帧身份信息，首个 token 之前也可以停止
		if err := util.WriteFrame(pw, frame("message")); err != nil {
			return
		}

		stream := b.client.Chat.Completions.NewStreaming(sctx, openai.ChatCompletionNewParams{
			Messages: msgs,
			Model:    b.conf.Model,
		})
		defer stream.Close()

		var answer strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			answer.WriteString(content)
			f := frame("message")
			f["answer"] = content
			if err := util.WriteFrame(pw, f); err != nil {
				return
			}
		}

		if err := stream.Err(); err != nil && sctx.Err() == nil {
			log.WithField("task_id", taskID).Errorf("openai 流式响应失败: %v", err)
			pw.CloseWithError(err)
			return
		}

		b.remember(conversationID, messageID, r.Query, answer.String())
		if err := util.WriteFrame(pw, frame("message_end")); err != nil {
			return
		}
		util.WriteDone(pw)
		_ = pw.Close()
	}()

	return pr, nil
}

func (b *OpenAIBridge) messages(conversationID, query string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0)
	if b.conf.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(b.conf.SystemPrompt))
	}
	b.mu.Lock()
	for _, m := range b.history[conversationID] {
		msgs = append(msgs, openai.UserMessage(m.Query))
		msgs = append(msgs, openai.AssistantMessage(util.StripThinking(m.Answer)))
	}
	b.mu.Unlock()
	return append(msgs, openai.UserMessage(query))
}

func (b *OpenAIBridge) remember(conversationID, messageID, query, answer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[conversationID] = append(b.history[conversationID], models.HistoryMessage{
		ID:             messageID,
		ConversationID: conversationID,
		Query:          query,
		Answer:         answer,
		CreatedAt:      time.Now().Unix(),
	})
}

func (b *OpenAIBridge) StopTask(_ context.Context, taskID string) error {
	b.mu.Lock()
	cancel, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	cancel()
	return nil
}

func (b *OpenAIBridge) SendFeedback(_ context.Context, messageID string, rating models.Rating, _ string) *models.ActionResult {
	if result := validateFeedback(messageID, rating); result != nil {
		return result
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conversationID, msgs := range b.history {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if rating == models.RatingNone {
				b.history[conversationID][i].Feedback = nil
			} else {
				b.history[conversationID][i].Feedback = &models.HistoryFeedback{Rating: string(rating)}
			}
			metrics.FeedbackTotal.WithLabelValues(ratingLabel(rating), models.ResultSuccess).Inc()
			return &models.ActionResult{Result: models.ResultSuccess}
		}
	}
	metrics.FeedbackTotal.WithLabelValues(ratingLabel(rating), models.ResultError).Inc()
	return models.ErrorResult(fmt.Sprintf("message %s not found", messageID))
}

// GetMessages 返回 firstID 之前的最多 limit 条消息，按时间正序
func (b *OpenAIBridge) GetMessages(_ context.Context, conversationID, firstID string, limit int) (*models.HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	b.mu.Lock()
	all := b.history[conversationID]
	end := len(all)
	if firstID != "" {
		for i, m := range all {
			if m.ID == firstID {
				end = i
				break
			}
		}
	}
	start := max(end-limit, 0)
	data := make([]models.HistoryMessage, end-start)
	copy(data, all[start:end])
	b.mu.Unlock()

	return &models.HistoryPage{Limit: limit, HasMore: start > 0, Data: data}, nil
}

func (b *OpenAIBridge) AppInfo(_ context.Context, kind string) map[string]any {
	switch kind {
	case AppParameters:
		return map[string]any{"opening_statement": "", "suggested_questions": []string{}}
	case AppInfo:
		return map[string]any{"name": b.conf.Model, "mode": "chat"}
	case AppSite:
		return map[string]any{"title": b.conf.Model}
	}
	return map[string]any{}
}

var _ Backend = (*OpenAIBridge)(nil)
