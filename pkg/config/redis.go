package config

import "time"

var redisConf Redis

type Redis struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	LockExpiry time.Duration `mapstructure:"lock_expiry"`
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

func GetRedisConf() Redis {
	return redisConf
}
