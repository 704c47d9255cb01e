package config

var myopenai Openai

// Openai openai 兼容接口的桥接配置
type Openai struct {
	ApiKey       string `mapstructure:"apikey"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

func GetOpenaiConf() Openai {
	return myopenai
}
