package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/diagnosis/wanderlust/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("wanderlust"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        uuid.NewString(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Nop drops every event. It stands in when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Subscribe(string, func(msg *Message)) error { return nil }
func (Nop) Close() error                               { return nil }

// Holiday lifecycle subjects
const (
	HolidayCreated             = "holiday.created"
	HolidayDeleted             = "holiday.deleted"
	HolidayItineraryUpdated    = "holiday.itinerary.updated"
	HolidayShared              = "holiday.shared"
	HolidayCollaboratorRemoved = "holiday.collaborator.removed"
	HolidayAccessCodeGenerated = "holiday.access_code.generated"
)

type HolidayEvent struct {
	HolidayID string    `json:"holiday_id"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}

type HolidayCreatedEvent struct {
	HolidayEvent
	Name string `json:"name"`
}

type ItineraryUpdatedEvent struct {
	HolidayEvent
	Items int `json:"items"`
}

type CollaboratorEvent struct {
	HolidayEvent
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}
