package main

import (
	"errors"
	"io/fs"
	"log"

	"skillswap-chat/internal/app"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	// .env 可选，其中的 CHAT_* 变量覆盖配置文件
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	// 初始化配置
	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.InitLogger(config.GlobalConfig.Log.Level, config.GlobalConfig.Log.ProductionMode); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if config.GlobalConfig.Server.Mode != "" {
		gin.SetMode(config.GlobalConfig.Server.Mode)
	}

	fx.New(app.Module()).Run()
}
