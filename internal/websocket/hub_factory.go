package websocket

import (
	"fmt"

	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
)

// CreateBus 根据配置创建跨进程总线
// "channel" 表示单进程部署，返回 nil
func CreateBus(instanceID string) (Bus, error) {
	provider := config.GlobalConfig.Messaging.Provider
	logger.L.Info("Creating bus with messaging provider", zap.String("provider", provider))

	switch provider {
	case "", "channel":
		return nil, nil

	case "kafka":
		bus, err := NewKafkaBus(config.GlobalConfig.Messaging.Kafka, instanceID)
		if err != nil {
			return nil, err
		}
		return bus, nil

	case "redis":
		bus, err := NewRedisBus(config.GlobalConfig.Messaging.Redis)
		if err != nil {
			return nil, err
		}
		return bus, nil

	default:
		return nil, fmt.Errorf("unsupported messaging provider %q", provider)
	}
}
