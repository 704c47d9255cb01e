package models

// ResponseModeStreaming 只支持流式模式
const ResponseModeStreaming = "streaming"

// ChatMessageRequest POST /chat-messages 请求体
type ChatMessageRequest struct {
	Query          string            `json:"query"`
	Inputs         map[string]string `json:"inputs"`
	ResponseMode   string            `json:"response_mode"`
	ConversationID string            `json:"conversation_id,omitempty"`
	User           string            `json:"user"`
	Files          []FileInput       `json:"files,omitempty"`
}

// FileInput 随消息上传的文件
type FileInput struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method,omitempty"`
	URL            string `json:"url,omitempty"`
	UploadFileID   string `json:"upload_file_id,omitempty"`
	Data           string `json:"data,omitempty"`
	Name           string `json:"name,omitempty"`
}

// SendMessageRequest 中继接口的发送消息请求
type SendMessageRequest struct {
	Query  string            `json:"query" binding:"required"`
	Inputs map[string]string `json:"inputs,omitempty"`
	Files  []FileInput       `json:"files,omitempty"`
}

// FeedbackRequest 中继接口的反馈请求，rating 为 null 表示撤销
type FeedbackRequest struct {
	Rating  *string `json:"rating"`
	Content string  `json:"content,omitempty"`
	// Toggle 为 true 时再次提交相同的反馈视为撤销
	Toggle bool `json:"toggle,omitempty"`
}

// ActionResult 停止、反馈等尽力而为调用的结果
type ActionResult struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

func ErrorResult(message string) *ActionResult {
	return &ActionResult{Result: ResultError, Message: message}
}

func (r *ActionResult) OK() bool {
	return r != nil && r.Result != ResultError
}
