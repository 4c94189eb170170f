package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Log       LogConfig       `mapstructure:"log"`
	File      *FileConfig     `mapstructure:"file"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Driver 可以是 "mysql"、"sqlite"、"mongo" 或 "memory"
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type WebSocketConfig struct {
	BroadcastBufferSize int `mapstructure:"broadcast_buffer_size"`

	WriteWaitSeconds int `mapstructure:"write_wait_seconds"`
	PongWaitSeconds  int `mapstructure:"pong_wait_seconds"`
	MaxMessageSize   int `mapstructure:"max_message_size"`
	// 重试相关配置
	MessageRetryCount      int `mapstructure:"message_retry_count"`
	MessageRetryIntervalMs int `mapstructure:"message_retry_interval_ms"`
	// 每个连接的入站事件限流
	EventsPerSecond int `mapstructure:"events_per_second"`
	EventBurst      int `mapstructure:"event_burst"`
	// 服务端输入状态过期时间
	TypingTimeoutMs int `mapstructure:"typing_timeout_ms"`
}

// Provider 可以是 "channel"（单进程）、"kafka" 或 "redis"
type MessagingConfig struct {
	Provider string      `mapstructure:"provider"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type LogConfig struct {
	Level          string `mapstructure:"level"`
	ProductionMode bool   `mapstructure:"production_mode"`
}

type FileConfig struct {
	Backend     string   `mapstructure:"backend"`
	StoragePath string   `mapstructure:"storage_path"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
	S3          S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

type BreakerConfig struct {
	MaxFailures uint32 `mapstructure:"max_failures"`
	IntervalSec int    `mapstructure:"interval_sec"`
	TimeoutSec  int    `mapstructure:"timeout_sec"`
}

var GlobalConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.mongo_database", "skillswap")
	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("messaging.provider", "channel")
	v.SetDefault("messaging.kafka.consumer_group", "chat-relay")
	v.SetDefault("messaging.kafka.topic_prefix", "chat")
	v.SetDefault("messaging.redis.channel", "chat:rooms")
	v.SetDefault("log.level", "info")
	v.SetDefault("file.backend", "local")
	v.SetDefault("file.storage_path", "uploads")
	v.SetDefault("file.max_file_size", 10*1024*1024)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.interval_sec", 60)
	v.SetDefault("breaker.timeout_sec", 15)
}

func load(name string) error {
	// 获取项目根目录
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(filepath.Dir(filepath.Dir(b)))

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(basepath, "config"))
	v.AddConfigPath("config")

	// CHAT_DATABASE_DSN 覆盖 database.dsn
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.File == nil {
		cfg.File = &FileConfig{Backend: "local", StoragePath: "uploads", MaxFileSize: 10 * 1024 * 1024}
	}

	GlobalConfig = cfg
	return nil
}

func Init() error {
	return load("config")
}

// 测试用的配置文件
func InitTest() error {
	return load("config.test")
}
