package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("执行命令失败: %v", err)
		os.Exit(1)
	}
}
