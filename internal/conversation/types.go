package conversation

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role says who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through its request.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusError     MessageStatus = "error"
	StatusCancelled MessageStatus = "cancelled"
)

// StateVersion is the version written into every persisted AppState.
const StateVersion = 1

// MaxConversations caps how many conversations the store will hold.
const MaxConversations = 100

// Message is one entry in a conversation. Timestamp is unix milliseconds.
type Message struct {
	ID        string        `json:"id" yaml:"id"`
	Role      Role          `json:"role" yaml:"role"`
	Content   string        `json:"content" yaml:"content"`
	Timestamp int64         `json:"timestamp" yaml:"timestamp"`
	Status    MessageStatus `json:"status" yaml:"status"`
}

// Conversation is an ordered, append-only list of messages.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt int64     `json:"createdAt" yaml:"created_at"`
}

// AppState is everything the store persists. Conversations are ordered most
// recently created first; an empty ActiveConversationID means none.
type AppState struct {
	Conversations        []Conversation `json:"conversations"`
	ActiveConversationID string         `json:"activeConversationId"`
	Version              int            `json:"version"`
}

// NewUserMessage creates an outgoing message in the sending state.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Status:    StatusSending,
	}
}

// NewAssistantMessage creates a completed reply. Replies are never "sending".
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Status:    StatusSent,
	}
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	c.Messages = slices.Clone(c.Messages)
	return c
}

// Clone returns a deep copy of s.
func (s *AppState) Clone() *AppState {
	out := &AppState{
		ActiveConversationID: s.ActiveConversationID,
		Version:              s.Version,
	}
	if s.Conversations != nil {
		out.Conversations = make([]Conversation, len(s.Conversations))
		for i, c := range s.Conversations {
			out.Conversations[i] = c.Clone()
		}
	}
	return out
}

// Find returns the index of the conversation with id, or -1.
func (s *AppState) Find(id string) int {
	return slices.IndexFunc(s.Conversations, func(c Conversation) bool { return c.ID == id })
}
