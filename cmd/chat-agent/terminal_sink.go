package main

import (
	"fmt"
	"io"
	"strings"

	"dify-chat-agent/internal/app/stream"
	"dify-chat-agent/pkg/util"
)

const (
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

// terminalSink 把回答增量打印到终端。UpsertAnswer 每次给出全文，
// 只打印新增的部分，前缀变化时另起一行重新打印。
type terminalSink struct {
	out          io.Writer
	showThinking bool
	printed      string
}

func newTerminalSink(out io.Writer, showThinking bool) *terminalSink {
	return &terminalSink{out: out, showThinking: showThinking}
}

func (s *terminalSink) CreateAssistantSurface() stream.Handle {
	return nil
}

func (s *terminalSink) ShowThinking(_ stream.Handle, text string) {
	if !s.showThinking {
		return
	}
	fmt.Fprintf(s.out, "%s%s%s\n\n", ansiDim, strings.TrimSpace(text), ansiReset)
}

func (s *terminalSink) UpsertAnswer(_ stream.Handle, fullText string) {
	visible := visibleAnswer(fullText)
	if strings.HasPrefix(visible, s.printed) {
		fmt.Fprint(s.out, visible[len(s.printed):])
	} else {
		fmt.Fprint(s.out, "\n"+visible)
	}
	s.printed = visible
}

func (s *terminalSink) Finalize(_ stream.Handle, f stream.Finalization) {
	fmt.Fprintln(s.out)
	if len(f.Resources) > 0 {
		fmt.Fprintln(s.out, "\nSources:")
		for i, r := range f.Resources {
			if r.URL != "" {
				fmt.Fprintf(s.out, "%d. %s (%s)\n", i+1, r.Title, r.URL)
			} else {
				fmt.Fprintf(s.out, "%d. %s\n", i+1, r.Title)
			}
		}
	}
	if len(f.SuggestedQuestions) > 0 {
		fmt.Fprintln(s.out, "\nTry asking:")
		for _, q := range f.SuggestedQuestions {
			fmt.Fprintf(s.out, "- %s\n", q)
		}
	}
}

func (s *terminalSink) ShowError(message string) {
	fmt.Fprintf(s.out, "%serror: %s%s\n", ansiRed, message, ansiReset)
}

// visibleAnswer 去掉思考段，思考标签未闭合时还没有可展示的内容
func visibleAnswer(text string) string {
	if open := strings.LastIndex(text, "<think>"); open >= 0 && !strings.Contains(text[open:], "</think>") {
		text = text[:open]
	}
	return util.StripThinking(text)
}
