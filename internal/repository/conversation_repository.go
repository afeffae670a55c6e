package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/session-service/internal/domain"
)

// ConversationRepository persists conversations. Every status transition is
// one FindOneAndUpdate whose filter carries the expected current state, so
// two racing transitions can never both succeed; the loser gets
// domain.ErrInvalidTransition.
type ConversationRepository struct {
	coll *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	r := &ConversationRepository{coll: db.Collection("conversations")}
	_, _ = r.coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "booking_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_start", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "session_end", Value: 1}}},
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
		{Keys: bson.D{{Key: "provider_id", Value: 1}}},
	})
	return r
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("booking %s already has a conversation: %w", c.BookingID, domain.ErrValidation)
		}
		return storeErr(err)
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, storeErr(err)
	}
	return &c, nil
}

func (r *ConversationRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"booking_id": bookingID}).Decode(&c); err != nil {
		return nil, storeErr(err)
	}
	return &c, nil
}

// SetJoined records the first join time for a role. A second join is a no-op
// so the original timestamp is kept.
func (r *ConversationRepository) SetJoined(ctx context.Context, id string, role domain.ParticipantRole, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	field := "customer_joined_at"
	if role == domain.RoleProvider {
		field = "provider_joined_at"
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, field: nil},
		bson.M{"$set": bson.M{field: now, "updated_at": now}},
	)
	return storeErr(err)
}

// transition performs one guarded compare-and-set. The filter must include
// _id plus whatever state the caller expects; a miss on an existing document
// means the guard failed and surfaces as ErrInvalidTransition.
func (r *ConversationRepository) transition(ctx context.Context, filter, set bson.M) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.coll.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var c domain.Conversation
	if err := res.Decode(&c); err != nil {
		if err != mongo.ErrNoDocuments {
			return nil, storeErr(err)
		}
		n, cerr := r.coll.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
		if cerr != nil {
			return nil, storeErr(cerr)
		}
		if n == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidTransition
	}
	return &c, nil
}

func (r *ConversationRepository) Activate(ctx context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return r.transition(ctx,
		bson.M{"_id": id, "status": domain.StatusWaiting},
		bson.M{"status": domain.StatusActive, "updated_at": now},
	)
}

func (r *ConversationRepository) Cancel(ctx context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return r.transition(ctx,
		bson.M{"_id": id, "status": domain.StatusWaiting},
		bson.M{"status": domain.StatusCancelled, "updated_at": now},
	)
}

func (r *ConversationRepository) End(ctx context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return r.transition(ctx,
		bson.M{"_id": id, "status": domain.StatusActive},
		bson.M{"status": domain.StatusEnded, "updated_at": now},
	)
}

// MarkWarningSent flips the one-shot flag. The false guard makes a duplicate
// warning impossible even with a racing sweep and extension.
func (r *ConversationRepository) MarkWarningSent(ctx context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return r.transition(ctx,
		bson.M{"_id": id, "status": domain.StatusActive, "warning_sent": false},
		bson.M{"warning_sent": true, "updated_at": now},
	)
}

// Extend moves session_end forward. The filter pins the previously observed
// session_end, so a concurrent extension forces the caller to re-read and
// retry instead of silently overwriting.
func (r *ConversationRepository) Extend(ctx context.Context, id string, prevEnd, newEnd time.Time, addMinutes int, now time.Time) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": domain.StatusActive, "session_end": prevEnd},
		bson.M{
			"$set": bson.M{"session_end": newEnd, "warning_sent": false, "updated_at": now},
			"$inc": bson.M{"extended_minutes": addMinutes},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var c domain.Conversation
	if err := res.Decode(&c); err != nil {
		if err != mongo.ErrNoDocuments {
			return nil, storeErr(err)
		}
		n, cerr := r.coll.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return nil, storeErr(cerr)
		}
		if n == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidTransition
	}
	return &c, nil
}

// FindLate returns waiting conversations whose grace period has elapsed and
// where at least one side never joined. Bounded for the sweep.
func (r *ConversationRepository) FindLate(ctx context.Context, cutoff time.Time, limit int64) ([]*domain.Conversation, error) {
	return r.scan(ctx, bson.M{
		"status":          domain.StatusWaiting,
		"scheduled_start": bson.M{"$lte": cutoff},
		"$or": []bson.M{
			{"customer_joined_at": nil},
			{"provider_joined_at": nil},
		},
	}, limit)
}

func (r *ConversationRepository) FindWarningDue(ctx context.Context, now, windowEnd time.Time, limit int64) ([]*domain.Conversation, error) {
	return r.scan(ctx, bson.M{
		"status":       domain.StatusActive,
		"warning_sent": false,
		"session_end":  bson.M{"$gt": now, "$lte": windowEnd},
	}, limit)
}

func (r *ConversationRepository) FindExpired(ctx context.Context, now time.Time, limit int64) ([]*domain.Conversation, error) {
	return r.scan(ctx, bson.M{
		"status":      domain.StatusActive,
		"session_end": bson.M{"$lte": now},
	}, limit)
}

func (r *ConversationRepository) scan(ctx context.Context, filter bson.M, limit int64) ([]*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "scheduled_start", Value: 1}}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(err)
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, &c)
	}
	return out, storeErr(cur.Err())
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string, status domain.ConversationStatus, limit int64) ([]*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"$or": []bson.M{{"customer_id": userID}, {"provider_id": userID}}}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_start", Value: -1}}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(err)
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, &c)
	}
	return out, storeErr(cur.Err())
}
