package util

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dify-chat-agent/internal/app/models"
)

// WriteSSE 把渲染事件扁平化为 {"type": ..., 字段...} 写出
func WriteSSE(w io.Writer, eventType string, data interface{}) error {
	var event map[string]interface{}

	switch v := data.(type) {
	case models.ThinkingEvent:
		event = map[string]interface{}{
			"type": eventType,
			"text": v.Text,
		}
	case models.AnswerEvent:
		event = map[string]interface{}{
			"type": eventType,
			"text": v.Text,
		}
		if v.HTML != "" {
			event["html"] = v.HTML
		}
	case models.BindCancelEvent:
		event = map[string]interface{}{
			"type":   eventType,
			"taskId": v.TaskID,
		}
	case models.FinalizeEvent:
		event = map[string]interface{}{
			"type":               eventType,
			"messageId":          v.MessageID,
			"localId":            v.LocalID,
			"conversationId":     v.ConversationID,
			"answer":             v.Answer,
			"resources":          nonNilResources(v.Resources),
			"suggestedQuestions": nonNilStrings(v.SuggestedQuestions),
		}
	case models.ErrorEvent:
		event = map[string]interface{}{
			"type":    eventType,
			"message": v.Message,
		}
	default:
		return fmt.Errorf("unsupported event data type: %T", data)
	}
	return WriteFrame(w, event)
}

// WriteFrame 写出一行 data: {json}
func WriteFrame(w io.Writer, frame interface{}) error {
	bytes, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", bytes); err != nil {
		return err
	}
	flush(w)
	return nil
}

func WriteThinking(w io.Writer, text string) error {
	return WriteSSE(w, models.EventShowThinking, models.ThinkingEvent{Text: text})
}

func WriteAnswer(w io.Writer, text, html string) error {
	return WriteSSE(w, models.EventAnswer, models.AnswerEvent{Text: text, HTML: html})
}

func WriteBindCancel(w io.Writer, taskID string) error {
	return WriteSSE(w, models.EventBindCancel, models.BindCancelEvent{TaskID: taskID})
}

func WriteFinalize(w io.Writer, ev models.FinalizeEvent) error {
	return WriteSSE(w, models.EventFinalize, ev)
}

func WriteError(w io.Writer, message string) error {
	return WriteSSE(w, models.EventError, models.ErrorEvent{Message: message})
}

func WriteDone(w io.Writer) {
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flush(w)
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func nonNilResources(items []models.Resource) []models.Resource {
	if items == nil {
		return []models.Resource{}
	}
	return items
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
