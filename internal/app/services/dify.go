package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/pkg/metrics"
	"dify-chat-agent/pkg/config"
)

const auxTimeout = 15 * time.Second

// 应用信息接口
const (
	AppParameters = "parameters"
	AppMeta       = "meta"
	AppInfo       = "info"
	AppSite       = "site"
)

// Backend 对话后端
type Backend interface {
	// StreamChat 发起流式对话，返回的响应体由调用方关闭
	StreamChat(ctx context.Context, r *models.ChatMessageRequest) (io.ReadCloser, error)
	StopTask(ctx context.Context, taskID string) error
	SendFeedback(ctx context.Context, messageID string, rating models.Rating, content string) *models.ActionResult
	GetMessages(ctx context.Context, conversationID, firstID string, limit int) (*models.HistoryPage, error)
	// AppInfo 读取应用信息，失败时返回空 map
	AppInfo(ctx context.Context, kind string) map[string]any
	User() string
}

// DifyClient Dify 服务端接口
type DifyClient struct {
	conf   config.Dify
	api    *req.Client
	stream *req.Client
}

func NewDifyClient(conf config.Dify) *DifyClient {
	if conf.BaseURL == "" {
		conf.BaseURL = config.DefaultDifyBaseURL
	}
	baseURL := strings.TrimRight(conf.BaseURL, "/")

	api := req.C().
		SetBaseURL(baseURL).
		SetCommonBearerAuthToken(conf.ApiKey).
		SetCommonHeader("Content-Type", "application/json").
		SetTimeout(auxTimeout)

	// 流式响应没有读超时，只能由结束事件或取消结束
	stream := req.C().
		SetBaseURL(baseURL).
		SetCommonBearerAuthToken(conf.ApiKey).
		SetCommonHeader("Content-Type", "application/json").
		SetCommonHeader("Accept", "text/event-stream").
		SetTimeout(0).
		DisableAutoReadResponse()

	return &DifyClient{conf: conf, api: api, stream: stream}
}

func (c *DifyClient) User() string {
	return c.conf.User
}

func (c *DifyClient) StreamChat(ctx context.Context, r *models.ChatMessageRequest) (io.ReadCloser, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetBody(r).
		Post("/chat-messages")
	if err != nil {
		return nil, fmt.Errorf("请求 chat-messages 失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

func (c *DifyClient) StopTask(ctx context.Context, taskID string) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("taskId", taskID).
		SetBody(map[string]string{"user": c.conf.User}).
		Post("/chat-messages/{taskId}/stop")
	if err != nil {
		return fmt.Errorf("停止任务失败: %w", err)
	}
	return checkStatus(resp)
}

func (c *DifyClient) SendFeedback(ctx context.Context, messageID string, rating models.Rating, content string) *models.ActionResult {
	if result := validateFeedback(messageID, rating); result != nil {
		return result
	}

	body := map[string]any{
		"rating":  nil,
		"user":    c.conf.User,
		"content": content,
	}
	if rating != models.RatingNone {
		body["rating"] = string(rating)
	}

	result := &models.ActionResult{Result: models.ResultSuccess}
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("messageId", messageID).
		SetBody(body).
		Post("/messages/{messageId}/feedbacks")
	if err == nil {
		err = checkStatus(resp)
	}
	if err != nil {
		log.WithField("message_id", messageID).Errorf("提交反馈失败: %v", err)
		result = models.ErrorResult(err.Error())
	} else if err := resp.Unmarshal(result); err != nil || result.Result == "" {
		result.Result = models.ResultSuccess
	}
	metrics.FeedbackTotal.WithLabelValues(ratingLabel(rating), result.Result).Inc()
	return result
}

func (c *DifyClient) GetMessages(ctx context.Context, conversationID, firstID string, limit int) (*models.HistoryPage, error) {
	if conversationID == "" {
		return &models.HistoryPage{Limit: limit, Data: []models.HistoryMessage{}}, nil
	}
	params := map[string]string{
		"conversation_id": conversationID,
		"user":            c.conf.User,
	}
	if firstID != "" {
		params["first_id"] = firstID
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/messages")
	if err != nil {
		return nil, fmt.Errorf("获取历史消息失败: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var page models.HistoryPage
	if err := resp.Unmarshal(&page); err != nil {
		return nil, fmt.Errorf("解析历史消息失败: %w", err)
	}
	return &page, nil
}

func (c *DifyClient) AppInfo(ctx context.Context, kind string) map[string]any {
	out := map[string]any{}
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("user", c.conf.User).
		Get("/" + kind)
	if err == nil {
		err = checkStatus(resp)
	}
	if err == nil {
		err = resp.Unmarshal(&out)
	}
	if err != nil {
		log.Warnf("获取应用信息 %s 失败: %v", kind, err)
		return map[string]any{}
	}
	return out
}

func checkStatus(resp *req.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := resp.ToString()
	return &APIError{Status: resp.StatusCode, Body: body}
}

// validateFeedback 参数不合法时直接返回错误结果，不发请求
func validateFeedback(messageID string, rating models.Rating) *models.ActionResult {
	if messageID == "" {
		metrics.FeedbackTotal.WithLabelValues(ratingLabel(rating), models.ResultError).Inc()
		return models.ErrorResult("message id is required")
	}
	if !rating.Valid() {
		metrics.FeedbackTotal.WithLabelValues("invalid", models.ResultError).Inc()
		return models.ErrorResult(fmt.Sprintf("invalid rating %q", rating))
	}
	return nil
}

func ratingLabel(r models.Rating) string {
	if r == models.RatingNone {
		return "none"
	}
	return string(r)
}

var _ Backend = (*DifyClient)(nil)
