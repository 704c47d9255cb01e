package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/controllers"
	"dify-chat-agent/internal/app/repositories"
	"dify-chat-agent/internal/pkg/code"
)

// RecordController 查询落库的对话记录
type RecordController struct {
	records *repositories.ConversationRecordRepository
}

func NewRecordController(records *repositories.ConversationRecordRepository) *RecordController {
	return &RecordController{records: records}
}

// BySession 中继会话的对话记录，会话被清理后仍可查询
func (c *RecordController) BySession(ctx *gin.Context) {
	limit, offset, ok := c.page(ctx)
	if !ok {
		return
	}
	records, err := c.records.ListBySession(ctx.Param("id"), limit, offset)
	if err != nil {
		log.Errorf("查询对话记录失败: %v", err)
		controllers.ResponseStatus(ctx, http.StatusInternalServerError, code.BackendErr, code.MsgBackend, err.Error(), nil)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, records)
}

// ByConversation 后端会话的对话记录，跨中继会话
func (c *RecordController) ByConversation(ctx *gin.Context) {
	limit, offset, ok := c.page(ctx)
	if !ok {
		return
	}
	records, err := c.records.ListByConversation(ctx.Param("conversationId"), limit, offset)
	if err != nil {
		log.Errorf("查询对话记录失败: %v", err)
		controllers.ResponseStatus(ctx, http.StatusInternalServerError, code.BackendErr, code.MsgBackend, err.Error(), nil)
		return
	}
	controllers.Response(ctx, code.Success, code.MsgSuccess, records)
}

func (c *RecordController) page(ctx *gin.Context) (int, int, bool) {
	if c.records == nil {
		controllers.ResponseStatus(ctx, http.StatusNotFound, code.NotFound, "conversation records are not persisted", "", nil)
		return 0, 0, false
	}
	limit, err1 := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	offset, err2 := strconv.Atoi(ctx.DefaultQuery("offset", "0"))
	if err1 != nil || err2 != nil || limit < 0 || offset < 0 {
		controllers.ResponseStatus(ctx, http.StatusBadRequest, code.ParamErr, code.MsgParamErr, "invalid limit or offset", nil)
		return 0, 0, false
	}
	return limit, offset, true
}
