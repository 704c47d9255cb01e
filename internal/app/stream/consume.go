package stream

import (
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/pkg/metrics"
)

// Outcome 一次读取流程的结果
type Outcome struct {
	State       AccumulatorState
	Final       Finalization
	Reason      FinishReason
	ParseErrors int
}

// Consume 读取响应体直到结束事件、EOF、取消或传输错误，并把渲染指令依次交给 sink。
// 无论哪种结束方式 sink 都只会收到一次 Finalize。传输错误时返回 error，Outcome 仍然有效。
func Consume(body io.Reader, sink RenderSink, canceller *Canceller) (*Outcome, error) {
	start := time.Now()
	acc := NewAccumulator()
	acc.Begin()
	h := sink.CreateAssistantSurface()
	p := NewParser()

	var final Finalization
	apply := func(cmds []Command) {
		for _, cmd := range cmds {
			switch cmd.Kind {
			case CmdBindCancelToken:
				canceller.Bind(cmd.TaskID)
			case CmdFinalize:
				final = *cmd.Final
			}
		}
		Apply(sink, h, cmds)
	}
	// 返回 true 表示应停止读取
	fold := func(events []ServerEvent) bool {
		for _, ev := range events {
			if !canceller.Active() {
				return true
			}
			apply(acc.Fold(ev))
			if acc.State() >= StateFinalizing {
				return true
			}
		}
		return false
	}

	buf := make([]byte, readBufferSize)
	var readErr error
	for canceller.Active() {
		n, err := body.Read(buf)
		if n > 0 && fold(p.Feed(buf[:n])) {
			break
		}
		if p.Closed() {
			break
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			fold(p.Flush())
			break
		}
		readErr = err
		break
	}

	switch {
	case acc.State() >= StateFinalizing:
	case readErr != nil:
		apply(acc.Fail())
	case !canceller.Active():
		apply(acc.Finish(ReasonCancelled))
	default:
		apply(acc.Finish(ReasonEOF))
	}
	acc.MarkTerminated()
	canceller.Release()

	outcome := &Outcome{
		State:       acc.Snapshot(),
		Final:       final,
		Reason:      acc.Reason(),
		ParseErrors: p.ParseErrors(),
	}
	observe(outcome, time.Since(start))

	if readErr != nil {
		return outcome, readErr
	}
	return outcome, nil
}

func observe(o *Outcome, elapsed time.Duration) {
	result := metrics.OutcomeCompleted
	switch o.Reason {
	case ReasonCancelled:
		result = metrics.OutcomeCancelled
	case ReasonTransportError:
		result = metrics.OutcomeFailed
	}
	metrics.StreamsTotal.WithLabelValues(result).Inc()
	metrics.StreamDuration.Observe(elapsed.Seconds())

	log.WithFields(log.Fields{
		"message_id":      o.Final.MessageID,
		"conversation_id": o.Final.ConversationID,
		"reason":          o.Reason.String(),
		"answer_len":      len(o.Final.Answer),
		"parse_errors":    o.ParseErrors,
	}).Debug("回答读取结束")
}

// Turns 把一次完成的问答转为两条对话记录
func (o *Outcome) Turns(query string, localID string) (models.ConversationTurn, models.ConversationTurn) {
	id := o.Final.MessageID
	if id == "" {
		id = localID
	}
	return models.ConversationTurn{Role: models.RoleUser, Content: query},
		models.ConversationTurn{Role: models.RoleAssistant, Content: o.Final.Answer, ID: id}
}
