package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dify-chat-agent/pkg/config"
)

var (
	Redis   *redis.Client
	Redsync *redsync.Redsync
)

// OpenRedis 连接 redis 并创建分布式锁。未配置地址时返回 nil。
func OpenRedis(ctx context.Context) (*redsync.Redsync, error) {
	if Redsync != nil {
		return Redsync, nil
	}
	conf := config.GetRedisConf()
	if !conf.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 redis 失败 %s: %w", conf.Addr, err)
	}

	Redis = client
	Redsync = redsync.New(goredis.NewPool(client))
	log.Infof("redis connection success: %s", conf.Addr)
	return Redsync, nil
}

func CloseRedis() {
	if Redis != nil {
		if err := Redis.Close(); err != nil {
			log.Warnf("关闭 redis 失败: %v", err)
		}
		Redis = nil
		Redsync = nil
	}
}
