package db

import (
	"fmt"

	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// 初始化数据库连接
func InitDB() error {
	cfg := config.GlobalConfig.Database
	d, err := dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(d, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// 自动迁移模式
	err = DB.AutoMigrate(&model.User{}, &model.Group{}, &model.GroupMember{}, &model.Message{})
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.L.Info("Database connected and migrated successfully", zap.String("driver", cfg.Driver))
	return nil
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
