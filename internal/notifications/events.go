package notifications

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a pipeline state change users are told about
type EventType string

const (
	EventOfferApproved      EventType = "offer.approved"
	EventOfferRejected      EventType = "offer.rejected"
	EventOrderCreated       EventType = "order.created"
	EventEscrowConfirmed    EventType = "escrow.confirmed"
	EventEscrowReleased     EventType = "escrow.released"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventReceiptValidated   EventType = "receipt.validated"
	EventTokensMinted       EventType = "tokens.minted"
	EventTokensDistributed  EventType = "tokens.distributed"
)

// Event is one notification addressed to one user
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	UserID     uuid.UUID         `json:"user_id"`
	Subject    string            `json:"subject"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent stamps an event for userID
func NewEvent(eventType EventType, userID uuid.UUID, subject, message string, data map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     userID,
		Subject:    subject,
		Message:    message,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher accepts events without blocking the caller
type Publisher interface {
	Publish(event Event)
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(Event) {}
