package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dify-chat-agent/internal/app/models"
)

func TestWriteEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAnswer(&buf, "a<b", "a&lt;b"))
	require.NoError(t, WriteFinalize(&buf, models.FinalizeEvent{MessageID: "m1", Answer: "a<b"}))
	WriteDone(&buf)

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"type":"answer","text":"a<b","html":"a&lt;b"}`, strings.TrimPrefix(frames[0], "data: "))
	assert.JSONEq(t, `{"type":"finalize","messageId":"m1","localId":false,"conversationId":"","answer":"a<b","resources":[],"suggestedQuestions":[]}`,
		strings.TrimPrefix(frames[1], "data: "))
	assert.Equal(t, "data: [DONE]", frames[2])
}

func TestWriteSSEUnsupported(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteSSE(&buf, "x", 42))

	data := map[string]interface{}{"k": "v"}
	assert.Error(t, WriteSSE(&buf, "custom", data))
	assert.Equal(t, map[string]interface{}{"k": "v"}, data)
	assert.Empty(t, buf.String())
}

func TestEncodeFileBase64(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o600))

	dataURL, fileType, err := EncodeFileBase64(path)
	require.NoError(t, err)
	assert.Equal(t, "document", fileType)
	assert.Equal(t, "data:text/plain;base64,aGk=", dataURL)

	_, _, err = EncodeFileBase64(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
	assert.Equal(t, "image", FileType("image/png"))
}
