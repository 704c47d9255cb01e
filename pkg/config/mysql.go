package config

var mysqlConf Mysql

type Mysql struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
}

// Enabled 未配置 host 时不持久化对话记录
func (m Mysql) Enabled() bool {
	return m.Host != ""
}

func GetMysqlConf() Mysql {
	return mysqlConf
}
