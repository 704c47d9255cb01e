package stream

// Handle RenderSink 创建的消息载体，由具体实现解释
type Handle interface{}

// RenderSink 回答的展示面，所有调用都来自同一个读取流程，实现不需要并发安全
type RenderSink interface {
	CreateAssistantSurface() Handle
	ShowThinking(h Handle, text string)
	UpsertAnswer(h Handle, fullText string)
	Finalize(h Handle, f Finalization)
}

// CancelBinder 可选能力：任务ID已知后启用停止按钮
type CancelBinder interface {
	BindCancel(h Handle, taskID string)
}

// ErrorRenderer 可选能力：以普通聊天条目展示错误
type ErrorRenderer interface {
	ShowError(message string)
}

// Apply 按顺序把指令应用到 sink
func Apply(sink RenderSink, h Handle, cmds []Command) {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdShowThinking:
			sink.ShowThinking(h, cmd.Text)
		case CmdUpsertAnswer:
			sink.UpsertAnswer(h, cmd.Text)
		case CmdBindCancelToken:
			if binder, ok := sink.(CancelBinder); ok {
				binder.BindCancel(h, cmd.TaskID)
			}
		case CmdFinalize:
			if cmd.Final != nil {
				sink.Finalize(h, *cmd.Final)
			}
		}
	}
}
