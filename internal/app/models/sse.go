package models

// 中继给前端的渲染事件，与 RenderSink 的调用一一对应

const (
	EventShowThinking = "show-thinking"
	EventAnswer       = "answer"
	EventBindCancel   = "bind-cancel"
	EventFinalize     = "finalize"
	EventError        = "error"
)

// ThinkingEvent 思考内容，每轮最多一次
type ThinkingEvent struct {
	Text string `json:"text"`
}

// AnswerEvent 当前完整的回答文本，HTML 为格式化后的展示内容
type AnswerEvent struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// BindCancelEvent 任务ID已知，停止按钮可用
type BindCancelEvent struct {
	TaskID string `json:"taskId"`
}

// FinalizeEvent 回答结束，附带反馈、引用和推荐问题
type FinalizeEvent struct {
	MessageID          string     `json:"messageId"`
	LocalID            bool       `json:"localId,omitempty"`
	ConversationID     string     `json:"conversationId,omitempty"`
	Answer             string     `json:"answer"`
	Resources          []Resource `json:"resources,omitempty"`
	SuggestedQuestions []string   `json:"suggestedQuestions,omitempty"`
}

// ErrorEvent 以普通聊天条目展示的错误
type ErrorEvent struct {
	Message string `json:"message"`
}
