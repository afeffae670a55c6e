package domain

import "time"

type MessageStatus string

const (
	MessageUnread MessageStatus = "unread"
	MessageRead   MessageStatus = "read"
)

// Message belongs to one conversation. At least one of Content, ImageURL,
// VideoURL must be non-empty. DeletedBy holds the ids of users who removed
// the message from their own view; IsRecalled suppresses it for everyone.
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	Content        string        `bson:"content,omitempty" json:"content,omitempty"`
	ImageURL       string        `bson:"image_url,omitempty" json:"image_url,omitempty"`
	VideoURL       string        `bson:"video_url,omitempty" json:"video_url,omitempty"`
	Status         MessageStatus `bson:"status" json:"status"`
	ReadAt         *time.Time    `bson:"read_at,omitempty" json:"read_at,omitempty"`
	IsRecalled     bool          `bson:"is_recalled" json:"is_recalled"`
	DeletedBy      []string      `bson:"deleted_by" json:"-"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
}

func (m *Message) HasContent() bool {
	return m.Content != "" || m.ImageURL != "" || m.VideoURL != ""
}

func (m *Message) DeletedFor(userID string) bool {
	for _, id := range m.DeletedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether userID should see the message at all.
// Recall wins over everything else.
func (m *Message) VisibleTo(userID string) bool {
	return !m.IsRecalled && !m.DeletedFor(userID)
}
