package models

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Resource 引用来源
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ConversationTurn 对话记录中的一条消息
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

// Rating 反馈类型，空字符串表示撤销
type Rating string

const (
	RatingLike    Rating = "like"
	RatingDislike Rating = "dislike"
	RatingNone    Rating = ""
)

func (r Rating) Valid() bool {
	return r == RatingLike || r == RatingDislike || r == RatingNone
}

// HistoryFeedback 历史消息上的反馈状态
type HistoryFeedback struct {
	Rating string `json:"rating"`
}

// HistoryMessage GET /messages 返回的一条消息
type HistoryMessage struct {
	ID                 string           `json:"id"`
	ConversationID     string           `json:"conversation_id"`
	Query              string           `json:"query"`
	Answer             string           `json:"answer"`
	Feedback           *HistoryFeedback `json:"feedback,omitempty"`
	RetrieverResources []Resource       `json:"retriever_resources,omitempty"`
	CreatedAt          int64            `json:"created_at"`
}

// HistoryPage GET /messages 的分页结果
type HistoryPage struct {
	Limit   int              `json:"limit"`
	HasMore bool             `json:"has_more"`
	Data    []HistoryMessage `json:"data"`
}
