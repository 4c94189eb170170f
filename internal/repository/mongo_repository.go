package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skillswap-chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMessageRepository 把消息存在 messages 集合中
type MongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(database *mongo.Database) *MongoMessageRepository {
	return &MongoMessageRepository{coll: database.Collection("messages")}
}

func (r *MongoMessageRepository) Insert(ctx context.Context, msg *model.Message) error {
	now := time.Now().UTC()
	msg.ID = model.NewID()
	if msg.Kind == "" {
		msg.Kind = model.KindText
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *MongoMessageRepository) findOne(ctx context.Context, filter bson.M) (*model.Message, error) {
	var m model.Message
	if err := r.coll.FindOne(ctx, filter).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoMessageRepository) FindByFilePath(ctx context.Context, filePath string) (*model.Message, error) {
	return r.findOne(ctx, bson.M{"file_path": filePath})
}

func (r *MongoMessageRepository) find(ctx context.Context, filter bson.M, limit, offset int) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []model.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoMessageRepository) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	return r.find(ctx, bson.M{"conversation_id": conversationID}, limit, offset)
}

func (r *MongoMessageRepository) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	return r.find(ctx, bson.M{"group_id": groupID}, limit, offset)
}

func (r *MongoMessageRepository) MarkRead(ctx context.Context, conversationID, receiverID string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "receiver_id": receiverID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type conversationRow struct {
	ID     string        `bson:"_id"`
	Last   model.Message `bson:"last"`
	Unread int           `bson:"unread"`
}

func (r *MongoMessageRepository) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversation_id": bson.M{"$exists": true, "$ne": ""},
			"$or":             bson.A{bson.M{"sender_id": userID}, bson.M{"receiver_id": userID}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$conversation_id",
			"last": bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver_id", userID}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}}, 1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.created_at", Value: -1}}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	defer cur.Close(ctx)

	var rows []conversationRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	out := make([]model.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		other := row.Last.ReceiverID
		if other == userID {
			other = row.Last.SenderID
		}
		out = append(out, model.ConversationSummary{
			ConversationID: row.ID,
			OtherUserID:    other,
			LastMessage:    row.Last.Content,
			UpdatedAt:      row.Last.CreatedAt,
			Unread:         row.Unread,
		})
	}
	return out, nil
}

type MongoUserRepository struct {
	coll *mongo.Collection
}

func NewMongoUserRepository(database *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: database.Collection("users")}
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// MongoGroupRepository 读取群组文档里内嵌的成员列表
type MongoGroupRepository struct {
	coll *mongo.Collection
}

func NewMongoGroupRepository(database *mongo.Database) *MongoGroupRepository {
	return &MongoGroupRepository{coll: database.Collection("groups")}
}

func (r *MongoGroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": groupID, "members": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
