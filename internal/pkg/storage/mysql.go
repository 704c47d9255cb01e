package storage

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/pkg/config"
)

var DB *gorm.DB

func initMysql(conf config.Mysql) error {
	db, err := gorm.Open(mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		conf.Username, conf.Password, conf.Host, conf.DBName)))
	if err != nil {
		log.Errorf("db connect fail:%s", err.Error())
		return fmt.Errorf("连接 mysql 失败: %w", err)
	}
	sqlDb, err := db.DB()
	if err != nil {
		return err
	}
	sqlDb.SetConnMaxLifetime(time.Hour * 6)
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(20)
	DB = db
	log.Info("mysql connection success")
	return nil
}

func initSqlite(conf config.Sqlite) error {
	dsn := conf.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("打开 sqlite 失败 %s: %w", conf.Path, err)
	}
	DB = db
	log.Infof("sqlite opened: %s", conf.Path)
	return nil
}

// OpenDB 按配置连接数据库并建表，mysql 优先。都未配置时返回 nil，对话记录不落库。
func OpenDB() (*gorm.DB, error) {
	if DB != nil {
		return DB, nil
	}
	var err error
	switch {
	case config.GetMysqlConf().Enabled():
		err = initMysql(config.GetMysqlConf())
	case config.GetSqliteConf().Enabled():
		err = initSqlite(config.GetSqliteConf())
	default:
		log.Info("未配置数据库，对话记录只保存在内存中")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.Contains(config.GetRunMode(), "dev") {
		DB = DB.Debug()
	}
	if err := Migrate(DB); err != nil {
		DB = nil
		return nil, err
	}
	return DB, nil
}

// Migrate 创建或更新表结构
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ConversationRecord{}); err != nil {
		return fmt.Errorf("建表失败: %w", err)
	}
	return nil
}
