package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/pkg/code"
)

func Response(c *gin.Context, code int, message string, data interface{}) {
	ResponseStatus(c, http.StatusOK, code, message, "", data)
}

func ResponseWithErr(c *gin.Context, code int, message string, err string, data interface{}) {
	ResponseStatus(c, http.StatusOK, code, message, err, data)
}

// ResponseStatus 需要非 200 状态码时使用，响应体仍是统一结构
func ResponseStatus(c *gin.Context, status int, code int, message string, err string, data interface{}) {
	if nil == data {
		data = struct {
		}{}
	}
	resp := &models.RespValue{
		Code: code,
		Msg:  message,
		Err:  err,
		Data: data,
	}
	c.JSON(status, resp)
}

// SSEHeaders 设置流式输出的响应头
func SSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func Health(c *gin.Context) {
	Response(c, code.Success, code.MsgSuccess, "")
}
