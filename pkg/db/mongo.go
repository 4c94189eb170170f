package db

import (
	"context"
	"fmt"
	"time"

	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var Mongo *mongo.Database

// InitMongo 连接MongoDB并创建消息集合的索引
func InitMongo(ctx context.Context) error {
	cfg := config.GlobalConfig.Database

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("failed to ping mongo: %w", err)
	}

	Mongo = client.Database(cfg.MongoDatabase)
	if err := ensureIndexes(connectCtx, Mongo); err != nil {
		return err
	}

	logger.L.Info("Mongo connected", zap.String("database", cfg.MongoDatabase))
	return nil
}

func ensureIndexes(ctx context.Context, database *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("conversation_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("group_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}},
			Options: options.Index().SetName("sender_receiver_idx"),
		},
	}
	if _, err := database.Collection("messages").Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func CloseMongo(ctx context.Context) error {
	if Mongo == nil {
		return nil
	}
	return Mongo.Client().Disconnect(ctx)
}
