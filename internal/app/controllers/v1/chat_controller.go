package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/controllers"
	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/app/services"
	"dify-chat-agent/internal/pkg/code"
)

type ChatController struct {
	sessions *services.SessionManager
	backend  services.Backend
}

func NewChatController(sessions *services.SessionManager, backend services.Backend) *ChatController {
	return &ChatController{sessions: sessions, backend: backend}
}

func (c *ChatController) widget(ctx *gin.Context) (*services.Widget, bool) {
	w, err := c.sessions.Get(ctx.Param("id"))
	if err != nil {
		controllers.ResponseStatus(ctx, http.StatusNotFound, code.NotFound, code.MsgNotFound, err.Error(), nil)
		return nil, false
	}
	return w, true
}

// CreateSession 创建会话并获取应用信息
func (c *ChatController) CreateSession(ctx *gin.Context) {
	w := c.sessions.Create()
	info, err := w.Bootstrap(ctx.Request.Context())
	if err != nil {
		log.WithField("session_id", w.ID()).Warnf("加载历史消息失败: %v", err)
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, gin.H{
		"sessionId":      w.ID(),
		"conversationId": w.ConversationID(),
		"app":            info,
		"messages":       w.Store().ToArray(),
	})
}

// SendMessage 发送消息，以 SSE 返回回答过程
func (c *ChatController) SendMessage(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controllers.ResponseStatus(ctx, http.StatusBadRequest, code.ParamErr, code.MsgParamErr, err.Error(), nil)
		return
	}

	// 客户端断开时通知服务端停止生成
	reqCtx := ctx.Request.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-reqCtx.Done():
			w.Stop()
		case <-done:
		}
	}()

	// 上游请求不跟随客户端连接，断开只走停止流程，回答按取消收尾
	sink := newRelaySink(ctx, w.Formatter())
	_, err := w.Send(context.WithoutCancel(reqCtx), req, sink)
	if err != nil && !sink.started {
		c.sendError(ctx, err)
		return
	}
	sink.Done()
}

func (c *ChatController) sendError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBusy):
		controllers.ResponseStatus(ctx, http.StatusConflict, code.Busy, code.MsgBusy, err.Error(), nil)
	case errors.Is(err, services.ErrReadOnly):
		controllers.ResponseStatus(ctx, http.StatusForbidden, code.Forbidden, code.MsgReadOnly, err.Error(), nil)
	case errors.Is(err, services.ErrEmptyQuery), errors.Is(err, services.ErrAborted):
		controllers.ResponseStatus(ctx, http.StatusBadRequest, code.ParamErr, code.MsgParamErr, err.Error(), nil)
	default:
		controllers.ResponseStatus(ctx, http.StatusBadGateway, code.BackendErr, code.MsgBackend, err.Error(), nil)
	}
}

func (c *ChatController) Stop(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, gin.H{"stopped": w.Stop()})
}

func (c *ChatController) Reset(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	w.Reset(ctx.Request.Context())
	controllers.Response(ctx, code.Success, code.MsgSuccess, gin.H{
		"conversationId": w.ConversationID(),
		"parameters":     w.AppInfo(services.AppParameters),
	})
}

// Messages 当前会话的对话记录
func (c *ChatController) Messages(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, w.Store().ToArray())
}

// History 从后端加载历史消息并替换对话记录
func (c *ChatController) History(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		controllers.ResponseStatus(ctx, http.StatusBadRequest, code.ParamErr, code.MsgParamErr, "invalid limit", nil)
		return
	}
	page, err := w.LoadHistory(ctx.Request.Context(), ctx.Query("first_id"), limit)
	if err != nil {
		c.sendError(ctx, err)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, page)
}

func (c *ChatController) Feedback(ctx *gin.Context) {
	w, ok := c.widget(ctx)
	if !ok {
		return
	}
	var req models.FeedbackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controllers.ResponseStatus(ctx, http.StatusBadRequest, code.ParamErr, code.MsgParamErr, err.Error(), nil)
		return
	}
	rating := models.RatingNone
	if req.Rating != nil {
		rating = models.Rating(*req.Rating)
	}

	messageID := ctx.Param("messageId")
	var result *models.ActionResult
	if req.Toggle {
		result, rating = w.ToggleFeedback(ctx.Request.Context(), messageID, rating)
	} else {
		result = w.Feedback(ctx.Request.Context(), messageID, rating, req.Content)
	}
	if !result.OK() {
		controllers.ResponseWithErr(ctx, code.BackendErr, code.MsgBackend, result.Message, result)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, gin.H{"result": result.Result, "rating": rating})
}

// AppInfo 转发 parameters、meta、info、site
func (c *ChatController) AppInfo(ctx *gin.Context) {
	kind := ctx.Param("kind")
	switch kind {
	case services.AppParameters, services.AppMeta, services.AppInfo, services.AppSite:
	default:
		controllers.ResponseStatus(ctx, http.StatusNotFound, code.NotFound, "unknown app resource", kind, nil)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, c.backend.AppInfo(ctx.Request.Context(), kind))
}
