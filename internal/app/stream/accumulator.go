package stream

import (
	"slices"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/pkg/util"
)

const (
	// FallbackEmptyAnswer 流正常结束但没有任何回答内容
	FallbackEmptyAnswer = "server returned no content"
	// FallbackNoReply 传输失败且没有收到任何回答内容
	FallbackNoReply = "sorry, the server did not return any reply"
)

// State 单轮回答的生命周期
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalizing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// FinishReason 进入 Finalizing 的原因
type FinishReason int

const (
	ReasonTerminalEvent FinishReason = iota
	ReasonEOF
	ReasonCancelled
	ReasonTransportError
)

func (r FinishReason) String() string {
	switch r {
	case ReasonTerminalEvent:
		return "terminal-event"
	case ReasonEOF:
		return "eof"
	case ReasonCancelled:
		return "cancelled"
	case ReasonTransportError:
		return "transport-error"
	}
	return "unknown"
}

// CommandKind 渲染指令类型
type CommandKind int

const (
	CmdShowThinking CommandKind = iota
	CmdUpsertAnswer
	CmdBindCancelToken
	CmdFinalize
)

func (k CommandKind) String() string {
	switch k {
	case CmdShowThinking:
		return "show-thinking"
	case CmdUpsertAnswer:
		return "upsert-answer"
	case CmdBindCancelToken:
		return "bind-cancel-token"
	case CmdFinalize:
		return "finalize"
	}
	return "unknown"
}

// Finalization 回答结束时交给 RenderSink 的数据
type Finalization struct {
	MessageID          string
	ConversationID     string
	Answer             string
	Resources          []models.Resource
	SuggestedQuestions []string
	Reason             FinishReason
	// LocalID 为 true 时 MessageID 是本地生成的，不能用于反馈
	LocalID bool
}

// Command 折叠一个事件后产生的渲染指令
type Command struct {
	Kind   CommandKind
	Text   string
	TaskID string
	Final  *Finalization
}

// AccumulatorState 单轮回答的累积状态，空字符串表示尚未获得
type AccumulatorState struct {
	BufferText         string
	ThinkingShown      bool
	ThinkingText       string
	MessageID          string
	ConversationID     string
	TaskID             string
	Resources          []models.Resource
	SuggestedQuestions []string
	Terminated         bool
}

// Accumulator 把服务端事件折叠为回答状态和渲染指令。
// 只属于一次发送，不可并发使用。
type Accumulator struct {
	state  State
	reason FinishReason
	st     AccumulatorState
}

func NewAccumulator() *Accumulator {
	return &Accumulator{state: StateIdle}
}

// Begin 开始读取响应体
func (a *Accumulator) Begin() {
	if a.state == StateIdle {
		a.state = StateStreaming
	}
}

func (a *Accumulator) State() State {
	return a.state
}

// Reason 进入 Finalizing 的原因，仅在 Finalizing 之后有意义
func (a *Accumulator) Reason() FinishReason {
	return a.reason
}

// Snapshot 返回当前状态的副本
func (a *Accumulator) Snapshot() AccumulatorState {
	s := a.st
	s.Resources = slices.Clone(a.st.Resources)
	s.SuggestedQuestions = slices.Clone(a.st.SuggestedQuestions)
	return s
}

// Fold 折叠一个事件。进入 Finalizing 之后到达的事件直接丢弃。
// 回答追加不是幂等的，同一个事件不能折叠两次。
func (a *Accumulator) Fold(ev ServerEvent) []Command {
	if a.state >= StateFinalizing {
		return nil
	}
	a.Begin()

	switch ev.Kind {
	case KindAnswerDelta:
		return a.foldAnswer(ev.Text)
	case KindMessageID:
		if a.st.MessageID == "" {
			a.st.MessageID = ev.ID
		}
	case KindConversationID:
		if a.st.ConversationID == "" {
			a.st.ConversationID = ev.ID
		}
	case KindTaskID:
		if a.st.TaskID == "" && ev.ID != "" {
			a.st.TaskID = ev.ID
			return []Command{{Kind: CmdBindCancelToken, TaskID: ev.ID}}
		}
	case KindRetrieverResources:
		a.st.Resources = slices.Clone(ev.Resources)
		if a.st.Resources == nil {
			a.st.Resources = []models.Resource{}
		}
	case KindSuggestedQuestions:
		a.st.SuggestedQuestions = slices.Clone(ev.Questions)
	case KindMessageEnd, KindWorkflowFinished:
		return a.finalize(ReasonTerminalEvent, FallbackEmptyAnswer)
	}
	return nil
}

func (a *Accumulator) foldAnswer(text string) []Command {
	var cmds []Command
	a.st.BufferText += text
	// 思考标签可能被拆在多个分片里，未展示之前每次都对完整缓冲区重新提取
	if !a.st.ThinkingShown {
		if thinking, ok := util.ExtractThinking(a.st.BufferText); ok {
			a.st.ThinkingShown = true
			a.st.ThinkingText = thinking
			cmds = append(cmds, Command{Kind: CmdShowThinking, Text: thinking})
		}
	}
	return append(cmds, Command{Kind: CmdUpsertAnswer, Text: a.st.BufferText})
}

// Finish 没有收到结束事件就终止（EOF 或取消），按结束事件同样的方式收尾
func (a *Accumulator) Finish(reason FinishReason) []Command {
	if a.state >= StateFinalizing {
		return nil
	}
	return a.finalize(reason, FallbackEmptyAnswer)
}

// Fail 传输失败，保留已收到的部分回答
func (a *Accumulator) Fail() []Command {
	if a.state >= StateFinalizing {
		return nil
	}
	return a.finalize(ReasonTransportError, FallbackNoReply)
}

// MarkTerminated RenderSink 已完成收尾
func (a *Accumulator) MarkTerminated() {
	if a.state == StateFinalizing {
		a.state = StateTerminated
		a.st.Terminated = true
	}
}

func (a *Accumulator) finalize(reason FinishReason, fallback string) []Command {
	a.state = StateFinalizing
	a.reason = reason

	var cmds []Command
	if a.st.BufferText == "" {
		a.st.BufferText = fallback
		cmds = append(cmds, Command{Kind: CmdUpsertAnswer, Text: fallback})
	}
	return append(cmds, Command{
		Kind: CmdFinalize,
		Final: &Finalization{
			MessageID:          a.st.MessageID,
			ConversationID:     a.st.ConversationID,
			Answer:             a.st.BufferText,
			Resources:          slices.Clone(a.st.Resources),
			SuggestedQuestions: slices.Clone(a.st.SuggestedQuestions),
			Reason:             reason,
		},
	})
}
