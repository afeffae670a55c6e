package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/session-service/internal/config"
	"github.com/fathima-sithara/session-service/internal/domain"
	"github.com/fathima-sithara/session-service/internal/events"
)

// LifecycleEngine owns the conversation state machine:
//
//	waiting -> active -> ended
//	waiting -> cancelled
//
// Transitions come in through explicit participant actions and through the
// sweep; both paths funnel into the store's compare-and-set methods, so a
// race resolves to one winner and the loser sees ErrInvalidTransition.
type LifecycleEngine struct {
	convs    ConversationStore
	bookings BookingLookup
	dispatch Dispatcher
	clock    Clock
	cfg      config.Session
	log      *zap.SugaredLogger
}

func NewLifecycleEngine(convs ConversationStore, bookings BookingLookup, dispatch Dispatcher, clock Clock, cfg config.Session, log *zap.SugaredLogger) *LifecycleEngine {
	return &LifecycleEngine{convs: convs, bookings: bookings, dispatch: dispatch, clock: clock, cfg: cfg, log: log}
}

// CreateFromBooking materialises a waiting conversation for a confirmed
// booking. Participant ids and the scheduled start come from the booking
// service; session_end starts at scheduled start plus the default duration.
func (e *LifecycleEngine) CreateFromBooking(ctx context.Context, bookingID string) (*domain.Conversation, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("booking_id required: %w", domain.ErrValidation)
	}
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID == "" || b.ProviderID == "" || b.ScheduledTime.IsZero() {
		return nil, fmt.Errorf("booking %s incomplete: %w", bookingID, domain.ErrValidation)
	}

	now := e.clock.Now()
	start := b.ScheduledTime.UTC()
	c := &domain.Conversation{
		ID:             uuid.NewString(),
		BookingID:      bookingID,
		CustomerID:     b.CustomerID,
		ProviderID:     b.ProviderID,
		Status:         domain.StatusWaiting,
		ScheduledStart: start,
		SessionEnd:     start.Add(e.cfg.DefaultDuration()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.convs.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *LifecycleEngine) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return e.convs.Get(ctx, id)
}

func (e *LifecycleEngine) ListForUser(ctx context.Context, userID string, status domain.ConversationStatus, limit int64) ([]*domain.Conversation, error) {
	return e.convs.ListByParticipant(ctx, userID, status, limit)
}

// Join records the actor's join time. It never forces a transition by
// itself: if the session is still waiting and the scheduled start has
// arrived, activation is attempted and a lost race is treated as benign.
func (e *LifecycleEngine) Join(ctx context.Context, id, actorID string) (*domain.Conversation, error) {
	c, err := e.convs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role, ok := c.RoleOf(actorID)
	if !ok {
		return nil, fmt.Errorf("user %s is not a participant: %w", actorID, domain.ErrForbidden)
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("session is %s: %w", c.Status, domain.ErrInvalidTransition)
	}

	now := e.clock.Now()
	if err := e.convs.SetJoined(ctx, id, role, now); err != nil {
		return nil, err
	}

	if c.Status == domain.StatusWaiting && !now.Before(c.ScheduledStart) {
		if _, err := e.Activate(ctx, id); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
	}
	return e.convs.Get(ctx, id)
}

// Activate moves waiting -> active once the scheduled start is reached.
func (e *LifecycleEngine) Activate(ctx context.Context, id string) (*domain.Conversation, error) {
	now := e.clock.Now()
	c, err := e.convs.Activate(ctx, id, now)
	if err != nil {
		return nil, err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.SessionActivated,
		ConversationID: c.ID,
		RecipientIDs:   c.Participants(),
	})
	return c, nil
}

// CancelLate cancels a waiting session whose grace period elapsed with at
// least one side absent. Idempotent: an already active or terminal session
// is a successful no-op, so the sweep can re-observe the same conversation.
func (e *LifecycleEngine) CancelLate(ctx context.Context, id string) error {
	c, err := e.convs.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.StatusWaiting {
		return nil
	}

	now := e.clock.Now()
	if now.Before(c.ScheduledStart.Add(e.cfg.GracePeriod())) {
		return fmt.Errorf("grace period still running: %w", domain.ErrInvalidTransition)
	}
	if c.CustomerJoinedAt != nil && c.ProviderJoinedAt != nil {
		return fmt.Errorf("both participants joined: %w", domain.ErrInvalidTransition)
	}

	cancelled, err := e.convs.Cancel(ctx, id, now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil // lost the race to an activation; benign
		}
		return err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.SessionCancelled,
		ConversationID: cancelled.ID,
		RecipientIDs:   cancelled.Participants(),
		Payload:        map[string]any{"reason": "no_show"},
	})
	return nil
}

// SendWarning fires the one-shot pre-expiry notification. The warning_sent
// guard lives in the store, so a concurrent sweep tick cannot double-fire.
func (e *LifecycleEngine) SendWarning(ctx context.Context, id string) error {
	c, err := e.convs.Get(ctx, id)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	if c.Status != domain.StatusActive || c.WarningSent {
		return nil
	}
	if now.After(c.SessionEnd) || c.SessionEnd.Sub(now) > e.cfg.WarningWindow() {
		return fmt.Errorf("outside warning window: %w", domain.ErrInvalidTransition)
	}

	marked, err := e.convs.MarkWarningSent(ctx, id, now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	remaining := int(marked.SessionEnd.Sub(now).Minutes())
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.SessionWarning,
		ConversationID: marked.ID,
		RecipientIDs:   marked.Participants(),
		Payload:        map[string]any{"minutes_remaining": remaining},
	})
	return nil
}

// AutoEnd closes an active session whose end time has passed. Idempotent.
func (e *LifecycleEngine) AutoEnd(ctx context.Context, id string) error {
	c, err := e.convs.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return nil
	}
	now := e.clock.Now()
	if c.Status != domain.StatusActive || now.Before(c.SessionEnd) {
		return fmt.Errorf("session not expired: %w", domain.ErrInvalidTransition)
	}

	ended, err := e.convs.End(ctx, id, now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.SessionEnded,
		ConversationID: ended.ID,
		RecipientIDs:   ended.Participants(),
		Payload:        map[string]any{"reason": "expired"},
	})
	return nil
}

// End is the explicit participant-initiated ending. Unlike AutoEnd, a guard
// failure here is surfaced so the API can report it.
func (e *LifecycleEngine) End(ctx context.Context, id, actorID string) (*domain.Conversation, error) {
	c, err := e.convs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actorID) {
		return nil, fmt.Errorf("user %s is not a participant: %w", actorID, domain.ErrForbidden)
	}
	if c.Status != domain.StatusActive {
		return nil, fmt.Errorf("session is %s: %w", c.Status, domain.ErrInvalidTransition)
	}

	ended, err := e.convs.End(ctx, id, e.clock.Now())
	if err != nil {
		return nil, err
	}
	e.dispatch.Publish(ctx, events.Event{
		Type:           events.SessionEnded,
		ConversationID: ended.ID,
		RecipientIDs:   ended.Participants(),
		Payload:        map[string]any{"reason": "ended_by_participant", "actor": actorID},
	})
	return ended, nil
}

// Extend pushes session_end out by additionalMinutes and re-arms the expiry
// warning. The store pins the session_end we read, so two concurrent
// extensions serialize; the loser re-reads and retries.
func (e *LifecycleEngine) Extend(ctx context.Context, id string, additionalMinutes int) (*domain.Conversation, error) {
	if additionalMinutes <= 0 {
		return nil, fmt.Errorf("additional_minutes must be positive: %w", domain.ErrValidation)
	}

	for attempt := 0; attempt < 3; attempt++ {
		c, err := e.convs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Status != domain.StatusActive {
			return nil, fmt.Errorf("session is %s: %w", c.Status, domain.ErrInvalidTransition)
		}

		now := e.clock.Now()
		newEnd := c.SessionEnd.Add(time.Duration(additionalMinutes) * time.Minute)
		extended, err := e.convs.Extend(ctx, id, c.SessionEnd, newEnd, additionalMinutes, now)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return nil, err
		}
		e.dispatch.Publish(ctx, events.Event{
			Type:           events.SessionExtended,
			ConversationID: extended.ID,
			RecipientIDs:   extended.Participants(),
			Payload:        map[string]any{"additional_minutes": additionalMinutes, "session_end": extended.SessionEnd},
		})
		return extended, nil
	}
	return nil, fmt.Errorf("extend retries exhausted: %w", domain.ErrInvalidTransition)
}

const sweepBatchLimit = 200

// SweepLateCancellations finds overdue waiting sessions and cancels them.
// A failure on one conversation is logged and never aborts the batch.
func (e *LifecycleEngine) SweepLateCancellations(ctx context.Context) int {
	now := e.clock.Now()
	cutoff := now.Add(-e.cfg.GracePeriod())
	late, err := e.convs.FindLate(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		e.log.Errorw("sweep late scan", "err", err)
		return 0
	}
	n := 0
	for _, c := range late {
		if ctx.Err() != nil {
			return n
		}
		if err := e.CancelLate(ctx, c.ID); err != nil {
			e.log.Warnw("cancel late session", "conversation", c.ID, "err", err)
			continue
		}
		n++
	}
	return n
}

func (e *LifecycleEngine) SweepWarnings(ctx context.Context) int {
	now := e.clock.Now()
	due, err := e.convs.FindWarningDue(ctx, now, now.Add(e.cfg.WarningWindow()), sweepBatchLimit)
	if err != nil {
		e.log.Errorw("sweep warning scan", "err", err)
		return 0
	}
	n := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return n
		}
		if err := e.SendWarning(ctx, c.ID); err != nil {
			e.log.Warnw("send session warning", "conversation", c.ID, "err", err)
			continue
		}
		n++
	}
	return n
}

func (e *LifecycleEngine) SweepExpirations(ctx context.Context) int {
	now := e.clock.Now()
	expired, err := e.convs.FindExpired(ctx, now, sweepBatchLimit)
	if err != nil {
		e.log.Errorw("sweep expiry scan", "err", err)
		return 0
	}
	n := 0
	for _, c := range expired {
		if ctx.Err() != nil {
			return n
		}
		if err := e.AutoEnd(ctx, c.ID); err != nil {
			e.log.Warnw("auto end session", "conversation", c.ID, "err", err)
			continue
		}
		n++
	}
	return n
}
