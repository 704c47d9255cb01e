package v1

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/controllers"
	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/app/services"
	"dify-chat-agent/internal/app/stream"
	"dify-chat-agent/pkg/util"
)

// relaySink 把渲染指令转成 SSE 事件推给浏览器。第一次写出时才设置流式响应头，
// 在此之前发送被拒绝的话仍然可以返回普通 JSON。
type relaySink struct {
	ctx       *gin.Context
	formatter services.Formatter
	started   bool
}

func newRelaySink(ctx *gin.Context, formatter services.Formatter) *relaySink {
	return &relaySink{ctx: ctx, formatter: formatter}
}

func (s *relaySink) begin() {
	if s.started {
		return
	}
	s.started = true
	controllers.SSEHeaders(s.ctx)
	s.ctx.Status(200)
}

func (s *relaySink) check(err error) {
	if err != nil {
		log.Debugf("推送事件失败，客户端可能已断开: %v", err)
	}
}

func (s *relaySink) CreateAssistantSurface() stream.Handle {
	s.begin()
	return nil
}

func (s *relaySink) ShowThinking(_ stream.Handle, text string) {
	s.check(util.WriteThinking(s.ctx.Writer, text))
}

func (s *relaySink) UpsertAnswer(_ stream.Handle, fullText string) {
	s.check(util.WriteAnswer(s.ctx.Writer, fullText, s.formatter.Format(fullText)))
}

func (s *relaySink) BindCancel(_ stream.Handle, taskID string) {
	s.check(util.WriteBindCancel(s.ctx.Writer, taskID))
}

func (s *relaySink) Finalize(_ stream.Handle, f stream.Finalization) {
	s.check(util.WriteFinalize(s.ctx.Writer, models.FinalizeEvent{
		MessageID:          f.MessageID,
		LocalID:            f.LocalID,
		ConversationID:     f.ConversationID,
		Answer:             f.Answer,
		Resources:          f.Resources,
		SuggestedQuestions: f.SuggestedQuestions,
	}))
}

func (s *relaySink) ShowError(message string) {
	s.begin()
	s.check(util.WriteError(s.ctx.Writer, message))
}

func (s *relaySink) Done() {
	if s.started {
		util.WriteDone(s.ctx.Writer)
	}
}
