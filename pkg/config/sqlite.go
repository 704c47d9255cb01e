package config

var sqliteConf Sqlite

// Sqlite 未配置 mysql 时可用本地文件保存对话记录
type Sqlite struct {
	Path string `mapstructure:"path"`
}

func (s Sqlite) Enabled() bool {
	return s.Path != ""
}

func GetSqliteConf() Sqlite {
	return sqliteConf
}
