package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	SessionActivated = "session.activated"
	SessionCancelled = "session.cancelled"
	SessionWarning   = "session.warning"
	SessionEnded     = "session.ended"
	SessionExtended  = "session.extended"
	MessageNew       = "message.new"
	MessageRead      = "message.read"
	MessageRecalled  = "message.recalled"
)

// Event is what the notification side consumes. Payload is event-specific.
type Event struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	RecipientIDs   []string       `json:"recipient_ids"`
	Payload        map[string]any `json:"payload,omitempty"`
	At             time.Time      `json:"at"`
}

type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w, log: log}
}

// Publish is fire-and-forget: delivery failures are logged, never returned,
// so a broker outage cannot block a state transition.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.writer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnw("marshal event", "type", ev.Type, "conversation", ev.ConversationID, "err", err)
		return
	}
	msg := kafka.Message{Key: []byte(ev.ConversationID), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("publish event", "type", ev.Type, "conversation", ev.ConversationID, "err", err)
	}
}

func (p *Publisher) Close() error { return p.writer.Close() }
