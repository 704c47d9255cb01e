package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/pkg/config"
)

func initConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, config.Init(path))
	t.Cleanup(func() {
		DB = nil
		CloseRedis()
	})
}

func TestOpenDBSqlite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	initConfig(t, "sqlite:\n  path: "+dbPath+"\n")

	db, err := OpenDB()
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.True(t, db.Migrator().HasTable(&models.ConversationRecord{}))

	again, err := OpenDB()
	require.NoError(t, err)
	assert.Same(t, db, again)
}

func TestOpenWithoutConfig(t *testing.T) {
	initConfig(t, "server:\n  addr: \":8080\"\n")

	db, err := OpenDB()
	assert.NoError(t, err)
	assert.Nil(t, db)

	rs, err := OpenRedis(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rs)
}
