package services

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"dify-chat-agent/internal/app/repositories"
	"dify-chat-agent/internal/pkg/storage"
	"dify-chat-agent/pkg/config"
)

const (
	ProviderDify   = "dify"
	ProviderOpenai = "openai"
)

var initOnce sync.Once

var (
	Client   Backend
	Sessions *SessionManager
	// Records 未配置数据库时为 nil
	Records *repositories.ConversationRecordRepository
)

// Init 按配置创建后端、持久化和会话表
func Init(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		Client, err = NewBackend(config.GetBackendConf(), config.GetDifyConf(), config.GetOpenaiConf())
		if err != nil {
			return
		}
		var factory WidgetFactory
		factory, err = NewWidgetFactory(ctx, Client)
		if err != nil {
			return
		}
		Sessions = NewSessionManager(factory)
	})
	return err
}

// NewBackend 选择 Dify 或 openai 兼容接口
func NewBackend(backend config.Backend, dify config.Dify, openai config.Openai) (Backend, error) {
	switch backend.Provider {
	case "", ProviderDify:
		if dify.ApiKey == "" {
			return nil, fmt.Errorf("dify.apikey 未配置")
		}
		return NewDifyClient(dify), nil
	case ProviderOpenai:
		if openai.ApiKey == "" {
			return nil, fmt.Errorf("openai.apikey 未配置")
		}
		return NewOpenAIBridge(openai, dify.User), nil
	}
	return nil, fmt.Errorf("未知的后端类型: %s", backend.Provider)
}

// NewWidgetFactory 按配置组装组件：数据库可用时记录对话，redis 可用时使用分布式发送锁
func NewWidgetFactory(ctx context.Context, backend Backend) (WidgetFactory, error) {
	db, err := storage.OpenDB()
	if err != nil {
		return nil, err
	}
	var recorder TurnRecorder
	if db != nil {
		Records = repositories.NewConversationRecordRepository(db)
		recorder = Records
	}

	rs, err := storage.OpenRedis(ctx)
	if err != nil {
		return nil, err
	}
	lockExpiry := config.GetRedisConf().LockExpiry

	difyConf := config.GetDifyConf()
	return func() *Widget {
		opts := OptionsFromConfig(difyConf)
		opts.Recorder = recorder
		if rs != nil {
			opts.Gate = NewRedisGate(rs, lockExpiry)
		}
		return NewWidget(backend, opts)
	}, nil
}

// Close 释放连接
func Close() {
	storage.CloseRedis()
	log.Info("services closed")
}
