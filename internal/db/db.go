package db

import (
	"fmt"
	"time"

	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 按驱动建立数据库连接。Postgres 带有简单的重试来等待容器就绪；
// SQLite 只保留一个连接，避免 :memory: 库在多个连接间各自独立。
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite":
		gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	case "postgres", "":
		return connectPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func connectPostgres(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("db connect retry")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 自动迁移会话存储与用户目录的全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.RoomMessage{},
		&models.Thread{},
		&models.ThreadParticipant{},
		&models.ThreadMessage{},
	)
}
