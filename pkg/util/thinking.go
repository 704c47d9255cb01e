package util

import "regexp"

var (
	thinkPairRe  = regexp.MustCompile(`(?s)<think(?:\s[^<>]*)?>(.*?)</think>`)
	thinkOpenRe  = regexp.MustCompile(`<think(?:\s[^<>]*)?>`)
	thinkCloseRe = regexp.MustCompile(`</think>`)
)

// ExtractThinking 提取第一个完整 <think>...</think> 中的思考内容，内容为空时返回 false
func ExtractThinking(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := thinkPairRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// StripThinking 移除所有思考段以及孤立的开闭标签，其余文本保持不变
func StripThinking(text string) string {
	for {
		cleaned := thinkPairRe.ReplaceAllString(text, "")
		cleaned = thinkOpenRe.ReplaceAllString(cleaned, "")
		cleaned = thinkCloseRe.ReplaceAllString(cleaned, "")
		// 删除标签后两侧文本可能拼出新的标签
		if cleaned == text {
			return cleaned
		}
		text = cleaned
	}
}
