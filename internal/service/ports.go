package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/session-service/internal/domain"
	"github.com/fathima-sithara/session-service/internal/events"
)

// ConversationStore is the persistence contract for sessions. Transition
// methods are guarded compare-and-sets: they return domain.ErrInvalidTransition
// when the conversation exists but is not in the expected state, and
// domain.ErrNotFound when it does not exist.
type ConversationStore interface {
	Create(ctx context.Context, c *domain.Conversation) error
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	GetByBooking(ctx context.Context, bookingID string) (*domain.Conversation, error)
	SetJoined(ctx context.Context, id string, role domain.ParticipantRole, now time.Time) error
	Activate(ctx context.Context, id string, now time.Time) (*domain.Conversation, error)
	Cancel(ctx context.Context, id string, now time.Time) (*domain.Conversation, error)
	End(ctx context.Context, id string, now time.Time) (*domain.Conversation, error)
	MarkWarningSent(ctx context.Context, id string, now time.Time) (*domain.Conversation, error)
	Extend(ctx context.Context, id string, prevEnd, newEnd time.Time, addMinutes int, now time.Time) (*domain.Conversation, error)
	FindLate(ctx context.Context, cutoff time.Time, limit int64) ([]*domain.Conversation, error)
	FindWarningDue(ctx context.Context, now, windowEnd time.Time, limit int64) ([]*domain.Conversation, error)
	FindExpired(ctx context.Context, now time.Time, limit int64) ([]*domain.Conversation, error)
	ListByParticipant(ctx context.Context, userID string, status domain.ConversationStatus, limit int64) ([]*domain.Conversation, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	FindInConversation(ctx context.Context, conversationID string, ids []string) ([]*domain.Message, error)
	MarkRead(ctx context.Context, id string, now time.Time) (*domain.Message, error)
	AddDeletedBy(ctx context.Context, conversationID, userID string, ids []string) error
	RemoveDeletedBy(ctx context.Context, conversationID, userID string, ids []string) error
	SetRecalled(ctx context.Context, conversationID string, ids []string) error
	ListVisible(ctx context.Context, conversationID, viewerID string, before time.Time, limit int64) ([]*domain.Message, error)
	CountUnread(ctx context.Context, conversationID, viewerID string) (int64, error)
}

// UndoStore keeps the short-lived pending soft-delete batches.
type UndoStore interface {
	Merge(ctx context.Context, userID, conversationID string, ids []string) error
	Take(ctx context.Context, userID, conversationID string) ([]string, error)
}

type BookingLookup interface {
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
}

// Dispatcher pushes events toward connected clients. Fire-and-forget.
type Dispatcher interface {
	Publish(ctx context.Context, ev events.Event)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }
