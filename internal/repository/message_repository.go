package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/session-service/internal/domain"
)

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	r := &MessageRepository{coll: db.Collection("messages")}
	_, _ = r.coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}}},
	})
	return r
}

func (r *MessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
	_, err := r.coll.InsertOne(ctx, m)
	return storeErr(err)
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, storeErr(err)
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
	return &m, nil
}

// FindInConversation loads the subset of ids that actually belong to the
// conversation; foreign ids are simply absent from the result.
func (r *MessageRepository) FindInConversation(ctx context.Context, conversationID string, ids []string) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "conversation_id": conversationID})
	if err != nil {
		return nil, storeErr(err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, &m)
	}
	return out, storeErr(cur.Err())
}

// MarkRead is idempotent: a message already read keeps its original read_at.
func (r *MessageRepository) MarkRead(ctx context.Context, id string, now time.Time) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": domain.MessageUnread},
		bson.M{"$set": bson.M{"status": domain.MessageRead, "read_at": now}},
	)
	if err != nil {
		return nil, storeErr(err)
	}
	return r.Get(ctx, id)
}

func (r *MessageRepository) AddDeletedBy(ctx context.Context, conversationID, userID string, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "conversation_id": conversationID},
		bson.M{"$addToSet": bson.M{"deleted_by": userID}},
	)
	return storeErr(err)
}

func (r *MessageRepository) RemoveDeletedBy(ctx context.Context, conversationID, userID string, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "conversation_id": conversationID},
		bson.M{"$pull": bson.M{"deleted_by": userID}},
	)
	return storeErr(err)
}

// SetRecalled flips is_recalled on the given ids. Recall is irreversible so
// the filter excludes already-recalled messages rather than rewriting them.
func (r *MessageRepository) SetRecalled(ctx context.Context, conversationID string, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "conversation_id": conversationID, "is_recalled": false},
		bson.M{"$set": bson.M{"is_recalled": true}},
	)
	return storeErr(err)
}

// ListVisible returns the viewer's view of a conversation, newest first.
// Recalled messages and messages the viewer soft-deleted are filtered in the
// query so pagination stays consistent.
func (r *MessageRepository) ListVisible(ctx context.Context, conversationID, viewerID string, before time.Time, limit int64) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"conversation_id": conversationID,
		"is_recalled":     false,
		"deleted_by":      bson.M{"$ne": viewerID},
	}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, storeErr(err)
		}
		if m.DeletedBy == nil {
			m.DeletedBy = []string{}
		}
		out = append(out, &m)
	}
	return out, storeErr(cur.Err())
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, viewerID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	n, err := r.coll.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"status":          domain.MessageUnread,
		"sender_id":       bson.M{"$ne": viewerID},
		"is_recalled":     false,
		"deleted_by":      bson.M{"$ne": viewerID},
	})
	return n, storeErr(err)
}
