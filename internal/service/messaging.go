package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/session-service/internal/config"
	"github.com/fathima-sithara/session-service/internal/domain"
	"github.com/fathima-sithara/session-service/internal/events"
)

// MessagingEngine validates participancy and session state, then performs
// send/read/delete/undo/recall against the message store and undo cache.
type MessagingEngine struct {
	convs    ConversationStore
	msgs     MessageStore
	undo     UndoStore
	dispatch Dispatcher
	clock    Clock
	cfg      config.Session
}

func NewMessagingEngine(convs ConversationStore, msgs MessageStore, undo UndoStore, dispatch Dispatcher, clock Clock, cfg config.Session) *MessagingEngine {
	return &MessagingEngine{convs: convs, msgs: msgs, undo: undo, dispatch: dispatch, clock: clock, cfg: cfg}
}

type SendInput struct {
	Content  string
	ImageURL string
	VideoURL string
}

func (e *MessagingEngine) participantConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	c, err := e.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(userID) {
		return nil, fmt.Errorf("user %s is not a participant: %w", userID, domain.ErrForbidden)
	}
	return c, nil
}

// Send persists an unread message and notifies the other side. Only an
// active session accepts messages.
func (e *MessagingEngine) Send(ctx context.Context, conversationID, senderID string, in SendInput) (*domain.Message, error) {
	c, err := e.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusActive {
		return nil, fmt.Errorf("session is %s: %w", c.Status, domain.ErrInvalidTransition)
	}

	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        in.Content,
		ImageURL:       in.ImageURL,
		VideoURL:       in.VideoURL,
		Status:         domain.MessageUnread,
		DeletedBy:      []string{},
		CreatedAt:      e.clock.Now(),
	}
	if !m.HasContent() {
		return nil, fmt.Errorf("message needs text or media: %w", domain.ErrValidation)
	}

	if err := e.msgs.Insert(ctx, m); err != nil {
		return nil, err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.MessageNew,
		ConversationID: conversationID,
		RecipientIDs:   []string{c.Peer(senderID)},
		Payload:        map[string]any{"message_id": m.ID, "sender_id": senderID},
	})
	return m, nil
}

// MarkRead is idempotent; re-reading a read message changes nothing.
func (e *MessagingEngine) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, error) {
	m, err := e.msgs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := e.participantConversation(ctx, m.ConversationID, readerID); err != nil {
		return nil, err
	}
	if m.Status == domain.MessageRead {
		return m, nil
	}

	read, err := e.msgs.MarkRead(ctx, messageID, e.clock.Now())
	if err != nil {
		return nil, err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.MessageRead,
		ConversationID: m.ConversationID,
		RecipientIDs:   []string{m.SenderID},
		Payload:        map[string]any{"message_id": messageID, "reader_id": readerID},
	})
	return read, nil
}

// DeleteForUser hides the given messages from userID's own view and records
// the batch in the undo cache. The TTL restarts from this call, so repeated
// deletes keep one mergeable pending batch. Other viewers are unaffected.
func (e *MessagingEngine) DeleteForUser(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("message_ids required: %w", domain.ErrValidation)
	}
	if len(messageIDs) > e.cfg.DeleteBatchMax {
		return fmt.Errorf("at most %d messages per delete: %w", e.cfg.DeleteBatchMax, domain.ErrValidation)
	}
	if _, err := e.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}

	owned, err := e.msgs.FindInConversation(ctx, conversationID, messageIDs)
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		return fmt.Errorf("no matching messages: %w", domain.ErrNotFound)
	}
	ids := make([]string, len(owned))
	for i, m := range owned {
		ids[i] = m.ID
	}

	if err := e.msgs.AddDeletedBy(ctx, conversationID, userID, ids); err != nil {
		return err
	}
	return e.undo.Merge(ctx, userID, conversationID, ids)
}

// UndoDelete reverses the pending soft-delete batch. Once the cache entry
// expired there is nothing to reverse and the caller gets ErrNotFound.
func (e *MessagingEngine) UndoDelete(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := e.participantConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	ids, err := e.undo.Take(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	if err := e.msgs.RemoveDeletedBy(ctx, conversationID, userID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

type RecallReport struct {
	Recalled []string        `json:"recalled"`
	Skipped  []RecallSkipped `json:"skipped"`
}

type RecallSkipped struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// Recall suppresses the sender's own recent messages for every viewer.
// Each id is judged on its own; ineligible ids are reported back instead of
// failing the batch.
func (e *MessagingEngine) Recall(ctx context.Context, senderID, conversationID string, messageIDs []string) (*RecallReport, error) {
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("message_ids required: %w", domain.ErrValidation)
	}
	if len(messageIDs) > e.cfg.RecallBatchMax {
		return nil, fmt.Errorf("at most %d messages per recall: %w", e.cfg.RecallBatchMax, domain.ErrValidation)
	}
	c, err := e.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	found, err := e.msgs.FindInConversation(ctx, conversationID, messageIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Message, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}

	now := e.clock.Now()
	report := &RecallReport{Recalled: []string{}, Skipped: []RecallSkipped{}}
	for _, id := range messageIDs {
		m, ok := byID[id]
		switch {
		case !ok:
			report.Skipped = append(report.Skipped, RecallSkipped{MessageID: id, Reason: "not_found"})
		case m.SenderID != senderID:
			report.Skipped = append(report.Skipped, RecallSkipped{MessageID: id, Reason: "not_sender"})
		case m.IsRecalled:
			report.Skipped = append(report.Skipped, RecallSkipped{MessageID: id, Reason: "already_recalled"})
		case now.Sub(m.CreatedAt) > e.cfg.RecallWindow():
			report.Skipped = append(report.Skipped, RecallSkipped{MessageID: id, Reason: "window_expired"})
		default:
			report.Recalled = append(report.Recalled, id)
		}
	}

	if len(report.Recalled) > 0 {
		if err := e.msgs.SetRecalled(ctx, conversationID, report.Recalled); err != nil {
			return nil, err
		}
		e.dispatch.Publish(ctx, events.Event{
			Type:           events.MessageRecalled,
			ConversationID: conversationID,
			RecipientIDs:   []string{c.Peer(senderID)},
			Payload:        map[string]any{"message_ids": report.Recalled},
		})
	}
	return report, nil
}

// ListVisible pages through the viewer's conversation history, newest first.
func (e *MessagingEngine) ListVisible(ctx context.Context, conversationID, viewerID string, before time.Time, limit int64) ([]*domain.Message, error) {
	if _, err := e.participantConversation(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > int64(e.cfg.PageSize) {
		limit = int64(e.cfg.PageSize)
	}
	return e.msgs.ListVisible(ctx, conversationID, viewerID, before, limit)
}

func (e *MessagingEngine) UnreadCount(ctx context.Context, conversationID, viewerID string) (int64, error) {
	if _, err := e.participantConversation(ctx, conversationID, viewerID); err != nil {
		return 0, err
	}
	return e.msgs.CountUnread(ctx, conversationID, viewerID)
}
