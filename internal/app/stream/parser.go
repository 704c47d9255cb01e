package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/pkg/metrics"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"

	readBufferSize = 4 * 1024
)

// Parser 把分块到达的 SSE 文本解析为服务端事件。
// 跨块的半行会被缓存，只有拿到完整的一行才会解析。
// 遇到 data: [DONE] 后解析器关闭，之后的输入全部忽略。
type Parser struct {
	buf         []byte
	closed      bool
	parseErrors int
}

func NewParser() *Parser {
	return &Parser{}
}

// Closed 是否已经读到结束标记或已 Flush
func (p *Parser) Closed() bool {
	return p.closed
}

// ParseErrors 被跳过的格式错误行数
func (p *Parser) ParseErrors() int {
	return p.parseErrors
}

// Feed 追加一个数据块，返回其中所有完整行产生的事件
func (p *Parser) Feed(chunk []byte) []ServerEvent {
	if p.closed {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []ServerEvent
	for !p.closed {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx == -1 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		events = append(events, p.parseLine(line)...)
	}
	if p.closed {
		p.buf = nil
	}
	return events
}

// Flush 传输层已到 EOF，最后一行即使没有换行也视为完整。调用后解析器关闭。
func (p *Parser) Flush() []ServerEvent {
	if p.closed {
		return nil
	}
	var events []ServerEvent
	if len(p.buf) > 0 {
		line := string(p.buf)
		p.buf = nil
		events = p.parseLine(line)
	}
	p.closed = true
	return events
}

func (p *Parser) parseLine(line string) []ServerEvent {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return nil
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return nil
	}
	if payload == doneMarker {
		p.closed = true
		return nil
	}
	if !gjson.Valid(payload) {
		p.skip(payload, "invalid json")
		return nil
	}
	frame := gjson.Parse(payload)
	if !frame.IsObject() {
		p.skip(payload, "frame is not an object")
		return nil
	}
	return decodeFrame(frame)
}

func (p *Parser) skip(payload string, reason string) {
	p.parseErrors++
	metrics.ParseErrorsTotal.Inc()
	if len(payload) > 200 {
		payload = payload[:200] + "..."
	}
	log.WithField("payload", payload).Warnf("跳过无法解析的事件帧: %s", reason)
}

// decodeFrame 一帧可能携带多个信息，按 任务ID、会话ID、消息ID、回答、引用、推荐问题、结束 的顺序展开
func decodeFrame(frame gjson.Result) []ServerEvent {
	var events []ServerEvent

	if id := frame.Get("task_id").String(); id != "" {
		events = append(events, TaskID(id))
	}
	if id := frame.Get("conversation_id").String(); id != "" {
		events = append(events, ConversationID(id))
	}
	if id := frame.Get("message_id").String(); id != "" {
		events = append(events, MessageID(id))
	}

	name := frame.Get("event").String()
	terminal := name == "message_end" || name == "workflow_finished"

	if !terminal {
		if answer := frame.Get("answer"); answer.Type == gjson.String && answer.Str != "" {
			events = append(events, AnswerDelta(answer.Str))
		} else if msg := frame.Get("message"); msg.Type == gjson.String && msg.Str != "" {
			events = append(events, AnswerDelta(msg.Str))
		}
	}

	resources := frame.Get("retriever_resources")
	if !resources.IsArray() {
		resources = frame.Get("metadata.retriever_resources")
	}
	if resources.IsArray() {
		events = append(events, RetrieverResources(decodeResources(resources)))
	}

	if questions := frame.Get("suggested_questions"); questions.IsArray() {
		items := make([]string, 0, len(questions.Array()))
		for _, q := range questions.Array() {
			if s := q.String(); s != "" {
				items = append(items, s)
			}
		}
		if len(items) > 0 {
			events = append(events, SuggestedQuestions(items))
		}
	}

	switch name {
	case "message_end":
		events = append(events, MessageEnd())
	case "workflow_finished":
		events = append(events, WorkflowFinished())
	}

	if len(events) == 0 {
		events = append(events, Unrecognized())
	}
	return events
}

func decodeResources(arr gjson.Result) []models.Resource {
	items := make([]models.Resource, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		title := item.Get("title").String()
		if title == "" {
			title = item.Get("document_name").String()
		}
		items = append(items, models.Resource{
			Title: title,
			URL:   item.Get("url").String(),
		})
	}
	return items
}

// Events 从 reader 惰性读取事件，序列不可重复消费。
// EOF 正常结束序列，其他读取错误作为最后一个元素返回。
func Events(r io.Reader) iter.Seq2[ServerEvent, error] {
	return func(yield func(ServerEvent, error) bool) {
		p := NewParser()
		buf := make([]byte, readBufferSize)
		for !p.Closed() {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range p.Feed(buf[:n]) {
					if !yield(ev, nil) {
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				for _, ev := range p.Flush() {
					if !yield(ev, nil) {
						return
					}
				}
				return
			}
			yield(ServerEvent{}, err)
			return
		}
	}
}
