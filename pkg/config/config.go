package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CHAT_DIFY_APIKEY 覆盖 dify.apikey
const EnvPrefix = "CHAT"

var serverConf Server
var logConf Log
var backendConf Backend

type Server struct {
	Addr    string `mapstructure:"addr"`
	RunMode string `mapstructure:"runmode"`
	// SessionTTL 会话空闲超过该时长后被清理
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Backend 选择对话后端：dify 或 openai 兼容接口
type Backend struct {
	Provider string `mapstructure:"provider"`
}

type settings struct {
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
	Backend Backend `mapstructure:"backend"`
	Dify    Dify    `mapstructure:"dify"`
	Openai  Openai  `mapstructure:"openai"`
	Mysql   Mysql   `mapstructure:"mysql"`
	Sqlite  Sqlite  `mapstructure:"sqlite"`
	Redis   Redis   `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.runmode", "release")
	v.SetDefault("server.session_ttl", 30*time.Minute)
	v.SetDefault("server.cleanup_interval", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("backend.provider", "dify")
	v.SetDefault("dify.base_url", DefaultDifyBaseURL)
	v.SetDefault("dify.user", "unknown")
	v.SetDefault("dify.hook_timeout", 30*time.Second)
	v.SetDefault("openai.model", "qwen-plus")
	v.SetDefault("openai.system_prompt", "You are a helpful assistant.")
	v.SetDefault("redis.lock_expiry", 10*time.Minute)
}

// Init 读取配置文件并加载到全局配置，path 为空时只使用默认值和环境变量
func Init(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		log.Infof("使用配置文件: %s", v.ConfigFileUsed())
	}
	// AutomaticEnv 只对显式访问的 key 生效，Unmarshal 之前逐个绑定
	for _, key := range []string{"dify.apikey", "dify.base_url", "dify.user", "openai.apikey", "openai.base_url", "mysql.password", "redis.password"} {
		_ = v.BindEnv(key)
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	apply(s)
	return nil
}

func apply(s settings) {
	serverConf = s.Server
	logConf = s.Log
	backendConf = s.Backend
	difyConf = s.Dify
	myopenai = s.Openai
	mysqlConf = s.Mysql
	sqliteConf = s.Sqlite
	redisConf = s.Redis
}

func GetServerConf() Server {
	return serverConf
}

func GetLogConf() Log {
	return logConf
}

func GetBackendConf() Backend {
	return backendConf
}

func GetRunMode() string {
	return serverConf.RunMode
}
