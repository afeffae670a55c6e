package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/session-service/internal/domain"
	"github.com/fathima-sithara/session-service/internal/events"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *fakeDispatcher) Publish(_ context.Context, ev events.Event) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *fakeDispatcher) count(eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeBookings struct {
	bookings map[string]*domain.Booking
}

func (b *fakeBookings) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	bk, ok := b.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bk, nil
}

// fakeConvStore mirrors the Mongo repository's compare-and-set semantics
// with a mutex instead of filtered updates.
type fakeConvStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{byID: make(map[string]*domain.Conversation)}
}

func copyConv(c *domain.Conversation) *domain.Conversation {
	out := *c
	return &out
}

func (s *fakeConvStore) Create(_ context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.BookingID == c.BookingID {
			return domain.ErrValidation
		}
	}
	s.byID[c.ID] = copyConv(c)
	return nil
}

func (s *fakeConvStore) Get(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyConv(c), nil
}

func (s *fakeConvStore) GetByBooking(_ context.Context, bookingID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.BookingID == bookingID {
			return copyConv(c), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeConvStore) SetJoined(_ context.Context, id string, role domain.ParticipantRole, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if role == domain.RoleCustomer && c.CustomerJoinedAt == nil {
		t := now
		c.CustomerJoinedAt = &t
	}
	if role == domain.RoleProvider && c.ProviderJoinedAt == nil {
		t := now
		c.ProviderJoinedAt = &t
	}
	return nil
}

func (s *fakeConvStore) cas(id string, from domain.ConversationStatus, mutate func(*domain.Conversation)) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.Status != from {
		return nil, domain.ErrInvalidTransition
	}
	mutate(c)
	return copyConv(c), nil
}

func (s *fakeConvStore) Activate(_ context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return s.cas(id, domain.StatusWaiting, func(c *domain.Conversation) {
		c.Status = domain.StatusActive
		c.UpdatedAt = now
	})
}

func (s *fakeConvStore) Cancel(_ context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return s.cas(id, domain.StatusWaiting, func(c *domain.Conversation) {
		c.Status = domain.StatusCancelled
		c.UpdatedAt = now
	})
}

func (s *fakeConvStore) End(_ context.Context, id string, now time.Time) (*domain.Conversation, error) {
	return s.cas(id, domain.StatusActive, func(c *domain.Conversation) {
		c.Status = domain.StatusEnded
		c.UpdatedAt = now
	})
}

func (s *fakeConvStore) MarkWarningSent(_ context.Context, id string, now time.Time) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.Status != domain.StatusActive || c.WarningSent {
		return nil, domain.ErrInvalidTransition
	}
	c.WarningSent = true
	c.UpdatedAt = now
	return copyConv(c), nil
}

func (s *fakeConvStore) Extend(_ context.Context, id string, prevEnd, newEnd time.Time, addMinutes int, now time.Time) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.Status != domain.StatusActive || !c.SessionEnd.Equal(prevEnd) {
		return nil, domain.ErrInvalidTransition
	}
	c.SessionEnd = newEnd
	c.ExtendedMinutes += addMinutes
	c.WarningSent = false
	c.UpdatedAt = now
	return copyConv(c), nil
}

func (s *fakeConvStore) FindLate(_ context.Context, cutoff time.Time, _ int64) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Conversation{}
	for _, c := range s.byID {
		if c.Status == domain.StatusWaiting && !c.ScheduledStart.After(cutoff) &&
			(c.CustomerJoinedAt == nil || c.ProviderJoinedAt == nil) {
			out = append(out, copyConv(c))
		}
	}
	return out, nil
}

func (s *fakeConvStore) FindWarningDue(_ context.Context, now, windowEnd time.Time, _ int64) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Conversation{}
	for _, c := range s.byID {
		if c.Status == domain.StatusActive && !c.WarningSent &&
			c.SessionEnd.After(now) && !c.SessionEnd.After(windowEnd) {
			out = append(out, copyConv(c))
		}
	}
	return out, nil
}

func (s *fakeConvStore) FindExpired(_ context.Context, now time.Time, _ int64) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Conversation{}
	for _, c := range s.byID {
		if c.Status == domain.StatusActive && !c.SessionEnd.After(now) {
			out = append(out, copyConv(c))
		}
	}
	return out, nil
}

func (s *fakeConvStore) ListByParticipant(_ context.Context, userID string, status domain.ConversationStatus, _ int64) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Conversation{}
	for _, c := range s.byID {
		if !c.IsParticipant(userID) {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, copyConv(c))
	}
	return out, nil
}

// flakyConvStore layers per-conversation read failures over the fake
// store so batch operations can be exercised against a partly broken
// backend.
type flakyConvStore struct {
	*fakeConvStore
	failMu  sync.Mutex
	failGet map[string]error
}

func newFlakyConvStore() *flakyConvStore {
	return &flakyConvStore{fakeConvStore: newFakeConvStore(), failGet: make(map[string]error)}
}

func (s *flakyConvStore) setGetError(id string, err error) {
	s.failMu.Lock()
	if err == nil {
		delete(s.failGet, id)
	} else {
		s.failGet[id] = err
	}
	s.failMu.Unlock()
}

func (s *flakyConvStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	s.failMu.Lock()
	err := s.failGet[id]
	s.failMu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.fakeConvStore.Get(ctx, id)
}

type fakeMsgStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Message
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{byID: make(map[string]*domain.Message)}
}

func copyMsg(m *domain.Message) *domain.Message {
	out := *m
	out.DeletedBy = append([]string{}, m.DeletedBy...)
	return &out
}

func (s *fakeMsgStore) Insert(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.ID] = copyMsg(m)
	return nil
}

func (s *fakeMsgStore) Get(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyMsg(m), nil
}

func (s *fakeMsgStore) FindInConversation(_ context.Context, conversationID string, ids []string) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Message{}
	for _, id := range ids {
		if m, ok := s.byID[id]; ok && m.ConversationID == conversationID {
			out = append(out, copyMsg(m))
		}
	}
	return out, nil
}

func (s *fakeMsgStore) MarkRead(_ context.Context, id string, now time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if m.Status == domain.MessageUnread {
		m.Status = domain.MessageRead
		t := now
		m.ReadAt = &t
	}
	return copyMsg(m), nil
}

func (s *fakeMsgStore) AddDeletedBy(_ context.Context, conversationID, userID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		if !m.DeletedFor(userID) {
			m.DeletedBy = append(m.DeletedBy, userID)
		}
	}
	return nil
}

func (s *fakeMsgStore) RemoveDeletedBy(_ context.Context, conversationID, userID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		kept := m.DeletedBy[:0]
		for _, u := range m.DeletedBy {
			if u != userID {
				kept = append(kept, u)
			}
		}
		m.DeletedBy = kept
	}
	return nil
}

func (s *fakeMsgStore) SetRecalled(_ context.Context, conversationID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.byID[id]; ok && m.ConversationID == conversationID {
			m.IsRecalled = true
		}
	}
	return nil
}

func (s *fakeMsgStore) ListVisible(_ context.Context, conversationID, viewerID string, before time.Time, limit int64) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Message{}
	for _, m := range s.byID {
		if m.ConversationID != conversationID || !m.VisibleTo(viewerID) {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, copyMsg(m))
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeMsgStore) CountUnread(_ context.Context, conversationID, viewerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.byID {
		if m.ConversationID == conversationID && m.Status == domain.MessageUnread &&
			m.SenderID != viewerID && m.VisibleTo(viewerID) {
			n++
		}
	}
	return n, nil
}

// fakeUndo reproduces the Redis behavior against the fake clock: entries
// past their TTL are treated as absent even though they are still in the map.
type fakeUndo struct {
	mu      sync.Mutex
	clock   *fakeClock
	ttl     time.Duration
	entries map[string]*undoEntry
}

type undoEntry struct {
	ids       map[string]struct{}
	expiresAt time.Time
}

func newFakeUndo(clock *fakeClock, ttl time.Duration) *fakeUndo {
	return &fakeUndo{clock: clock, ttl: ttl, entries: make(map[string]*undoEntry)}
}

func undoKey(userID, conversationID string) string { return userID + "|" + conversationID }

func (u *fakeUndo) Merge(_ context.Context, userID, conversationID string, ids []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := undoKey(userID, conversationID)
	now := u.clock.Now()
	e := u.entries[key]
	if e == nil || now.After(e.expiresAt) {
		e = &undoEntry{ids: make(map[string]struct{})}
		u.entries[key] = e
	}
	for _, id := range ids {
		e.ids[id] = struct{}{}
	}
	e.expiresAt = now.Add(u.ttl)
	return nil
}

func (u *fakeUndo) Take(_ context.Context, userID, conversationID string) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := undoKey(userID, conversationID)
	e := u.entries[key]
	if e == nil || u.clock.Now().After(e.expiresAt) {
		return nil, domain.ErrNotFound
	}
	delete(u.entries, key)
	out := make([]string, 0, len(e.ids))
	for id := range e.ids {
		out = append(out, id)
	}
	return out, nil
}
