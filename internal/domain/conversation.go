package domain

import "time"

type ConversationStatus string

const (
	StatusWaiting   ConversationStatus = "waiting"
	StatusActive    ConversationStatus = "active"
	StatusEnded     ConversationStatus = "ended"
	StatusCancelled ConversationStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s ConversationStatus) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Conversation is the time-boxed chat session bound 1:1 to a booking.
// Participant ids are resolved from the booking at creation time.
// A conversation is never deleted; terminal statuses archive it.
type Conversation struct {
	ID               string             `bson:"_id" json:"id"`
	BookingID        string             `bson:"booking_id" json:"booking_id"`
	CustomerID       string             `bson:"customer_id" json:"customer_id"`
	ProviderID       string             `bson:"provider_id" json:"provider_id"`
	Status           ConversationStatus `bson:"status" json:"status"`
	ScheduledStart   time.Time          `bson:"scheduled_start" json:"scheduled_start"`
	SessionEnd       time.Time          `bson:"session_end" json:"session_end"`
	ExtendedMinutes  int                `bson:"extended_minutes" json:"extended_minutes"`
	CustomerJoinedAt *time.Time         `bson:"customer_joined_at,omitempty" json:"customer_joined_at,omitempty"`
	ProviderJoinedAt *time.Time         `bson:"provider_joined_at,omitempty" json:"provider_joined_at,omitempty"`
	WarningSent      bool               `bson:"warning_sent" json:"warning_sent"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "customer"
	RoleProvider ParticipantRole = "provider"
)

// RoleOf resolves which side of the booking userID is on.
func (c *Conversation) RoleOf(userID string) (ParticipantRole, bool) {
	switch userID {
	case c.CustomerID:
		return RoleCustomer, true
	case c.ProviderID:
		return RoleProvider, true
	}
	return "", false
}

func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.CustomerID || userID == c.ProviderID
}

// Peer returns the other participant, or "" if userID is not one.
func (c *Conversation) Peer(userID string) string {
	switch userID {
	case c.CustomerID:
		return c.ProviderID
	case c.ProviderID:
		return c.CustomerID
	}
	return ""
}

func (c *Conversation) Participants() []string {
	return []string{c.CustomerID, c.ProviderID}
}

// Booking is the external owner of a conversation's identity and schedule.
type Booking struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	ProviderID    string    `json:"provider_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
}
