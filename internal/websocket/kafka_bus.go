package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaBus 通过一个 Kafka 主题转发房间广播
// 每个实例使用独立的消费者组，因此都能收到全部消息
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	cfg      config.KafkaConfig
}

func NewKafkaBus(cfg config.KafkaConfig, instanceID string) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}

	// 配置Kafka
	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Return.Successes = true
	kConfig.Producer.Retry.Max = 3
	kConfig.Producer.Partitioner = sarama.NewHashPartitioner // 同一房间落在同一分区
	kConfig.Consumer.Return.Errors = true
	kConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kConfig.Version = sarama.V2_8_0_0 // 使用一个稳定版本

	// 创建生产者
	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka producer", zap.Error(err))
		return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
	}

	// 创建消费者组
	group := fmt.Sprintf("%s-%s", cfg.ConsumerGroup, instanceID)
	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, group, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka consumer group", zap.Error(err))
		producer.Close()
		return nil, fmt.Errorf("failed to start Kafka consumer group: %w", err)
	}

	return &KafkaBus{producer: producer, consumer: consumer, cfg: cfg}, nil
}

// 构建Kafka主题名称
func (b *KafkaBus) topic() string {
	return fmt.Sprintf("%s_rooms", b.cfg.TopicPrefix)
}

func (b *KafkaBus) Publish(_ context.Context, env BusEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal bus envelope: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: b.topic(),
		Key:   sarama.StringEncoder(env.Room),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := b.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

func (b *KafkaBus) Consume(ctx context.Context, deliver func(BusEnvelope)) error {
	go func() {
		for err := range b.consumer.Errors() {
			logger.L.Error("Kafka consumer group error", zap.Error(err))
		}
	}()

	handler := &kafkaConsumerHandler{deliver: deliver}
	topics := []string{b.topic()}

	// 启动消费循环
	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Stopping Kafka consumer")
			return ctx.Err()
		default:
		}
		if err := b.consumer.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return err
			}
			logger.L.Error("Kafka consumer error", zap.Error(err))
			select {
			case <-time.After(5 * time.Second): // 失败时等待一段时间再重试
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// 关闭生产者和消费者组
func (b *KafkaBus) Close() error {
	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close Kafka producer: %w", err))
	}
	if err := b.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close Kafka consumer group: %w", err))
	}
	return errors.Join(errs...)
}

// Kafka消费者处理器
type kafkaConsumerHandler struct {
	deliver func(BusEnvelope)
}

// Setup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var env BusEnvelope
		if err := json.Unmarshal(message.Value, &env); err != nil {
			logger.L.Error("Failed to unmarshal bus envelope", zap.Error(err))
		} else {
			h.deliver(env)
		}
		// 标记消息已处理
		session.MarkMessage(message, "")
	}
	return nil
}
