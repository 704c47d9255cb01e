package logger

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dify-chat-agent/pkg/config"
)

func TestInitLevelAndFormat(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
		log.SetOutput(os.Stderr)
	})

	Init(config.Log{Level: "debug", Format: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	Init(config.Log{Level: "nonsense"})
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	conf := config.Log{Level: "info", File: path, MaxSize: 1}
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	Init(conf)
	log.Info("relay started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "relay started")
}
