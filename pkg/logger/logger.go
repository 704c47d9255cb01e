package logger

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"dify-chat-agent/pkg/config"
)

// Init 按配置初始化 logrus，配置了文件时同时输出到滚动日志
func Init(conf config.Log) {
	level, err := log.ParseLevel(conf.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if conf.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if conf.File == "" {
		log.SetOutput(os.Stderr)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, NewRotateWriter(conf)))
}

// NewRotateWriter 创建 lumberjack 滚动日志
func NewRotateWriter(conf config.Log) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   conf.File,
		MaxSize:    conf.MaxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAge,
		Compress:   true,
	}
}
