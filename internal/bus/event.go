package bus

import "time"

// Event kinds published by the chat daemon. Subscribers filter by prefix,
// so "request." receives every request lifecycle event.
const (
	KindRequestStatusChanged = "request.status_changed"
	KindRequestRetrying      = "request.retrying"

	KindConversationCreated  = "conversation.created"
	KindConversationDeleted  = "conversation.deleted"
	KindConversationSwitched = "conversation.switched"
	KindMessageAppended      = "conversation.message_appended"
	KindMessageStatusChanged = "conversation.message_status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
