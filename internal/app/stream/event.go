package stream

import "dify-chat-agent/internal/app/models"

// EventKind 服务端事件类型
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindAnswerDelta
	KindMessageID
	KindConversationID
	KindTaskID
	KindRetrieverResources
	KindSuggestedQuestions
	KindMessageEnd
	KindWorkflowFinished
)

var kindNames = map[EventKind]string{
	KindUnrecognized:       "unrecognized",
	KindAnswerDelta:        "answer-delta",
	KindMessageID:          "message-id",
	KindConversationID:     "conversation-id",
	KindTaskID:             "task-id",
	KindRetrieverResources: "retriever-resources",
	KindSuggestedQuestions: "suggested-questions",
	KindMessageEnd:         "message-end",
	KindWorkflowFinished:   "workflow-finished",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal 是否为结束事件
func (k EventKind) Terminal() bool {
	return k == KindMessageEnd || k == KindWorkflowFinished
}

// ServerEvent 解析后的服务端事件，按 Kind 使用对应字段
type ServerEvent struct {
	Kind      EventKind
	Text      string
	ID        string
	Resources []models.Resource
	Questions []string
}

func AnswerDelta(text string) ServerEvent {
	return ServerEvent{Kind: KindAnswerDelta, Text: text}
}

func MessageID(id string) ServerEvent {
	return ServerEvent{Kind: KindMessageID, ID: id}
}

func ConversationID(id string) ServerEvent {
	return ServerEvent{Kind: KindConversationID, ID: id}
}

func TaskID(id string) ServerEvent {
	return ServerEvent{Kind: KindTaskID, ID: id}
}

func RetrieverResources(items []models.Resource) ServerEvent {
	return ServerEvent{Kind: KindRetrieverResources, Resources: items}
}

func SuggestedQuestions(items []string) ServerEvent {
	return ServerEvent{Kind: KindSuggestedQuestions, Questions: items}
}

func MessageEnd() ServerEvent {
	return ServerEvent{Kind: KindMessageEnd}
}

func WorkflowFinished() ServerEvent {
	return ServerEvent{Kind: KindWorkflowFinished}
}

func Unrecognized() ServerEvent {
	return ServerEvent{Kind: KindUnrecognized}
}
