package config

import "time"

const DefaultDifyBaseURL = "https://api.dify.ai/v1"

var difyConf Dify

type Dify struct {
	BaseURL        string            `mapstructure:"base_url"`
	ApiKey         string            `mapstructure:"apikey"`
	User           string            `mapstructure:"user"`
	ConversationID string            `mapstructure:"conversation_id"`
	Inputs         map[string]string `mapstructure:"inputs"`
	ReadOnly       bool              `mapstructure:"read_only"`
	HookTimeout    time.Duration     `mapstructure:"hook_timeout"`
	Markdown       bool              `mapstructure:"markdown"`
}

func GetDifyConf() Dify {
	return difyConf
}
