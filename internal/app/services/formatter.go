package services

import (
	"bytes"
	"html"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"dify-chat-agent/pkg/util"
)

// Formatter 把回答文本转换为展示用的 HTML
type Formatter interface {
	Format(text string) string
}

// PlainFormatter 转义后保留换行
type PlainFormatter struct{}

func (PlainFormatter) Format(text string) string {
	escaped := html.EscapeString(util.StripThinking(text))
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

// MarkdownFormatter 使用 goldmark 渲染，失败时退回纯文本
type MarkdownFormatter struct {
	md       goldmark.Markdown
	fallback PlainFormatter
}

func NewMarkdownFormatter() *MarkdownFormatter {
	return &MarkdownFormatter{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (f *MarkdownFormatter) Format(text string) string {
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(util.StripThinking(text)), &buf); err != nil {
		log.Warnf("markdown 渲染失败: %v", err)
		return f.fallback.Format(text)
	}
	return buf.String()
}

// NewFormatter 按配置选择格式化方式
func NewFormatter(markdown bool) Formatter {
	if markdown {
		return NewMarkdownFormatter()
	}
	return PlainFormatter{}
}
