package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/minichat/internal/bus"
	"go.uber.org/zap"
)

var (
	ErrCapacity    = errors.New("conversation limit reached")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persist app state")
)

// Persister loads and saves the whole AppState. Load returns (nil, nil) when
// nothing usable has been stored yet.
type Persister interface {
	Load(ctx context.Context) (*AppState, error)
	Save(ctx context.Context, state *AppState) error
}

// ConversationEvent is the payload of conversation.created/deleted/switched.
type ConversationEvent struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
}

// MessageEvent is the payload of the message events.
type MessageEvent struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Role           Role          `json:"role,omitempty"`
	Status         MessageStatus `json:"status"`
}

// Store is the only writer of AppState. Every mutation runs under one mutex,
// is persisted and then announced on the bus.
type Store struct {
	mu        sync.Mutex
	state     AppState
	persister Persister
	bus       *bus.Bus
	logger    *zap.Logger

	// onPersistError runs with the store locked and must not call back into it.
	onPersistError func(error)
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes conversation events on b.
func WithBus(b *bus.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPersistErrorFunc registers fn to be told about every failed save.
func WithPersistErrorFunc(fn func(error)) Option {
	return func(s *Store) { s.onPersistError = fn }
}

// NewStore creates a store backed by p. A nil p keeps state in memory only.
func NewStore(p Persister, opts ...Option) *Store {
	s := &Store{persister: p, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.state = AppState{Version: StateVersion}
	return s
}

// Init loads the persisted state. When nothing was stored, or the stored state
// holds no conversations, a default "Conversation 1" is created, made active
// and persisted. A load error is returned but the store is still usable with
// the default state.
func (s *Store) Init(ctx context.Context) error {
	var loadErr error
	var loaded *AppState
	if s.persister != nil {
		loaded, loadErr = s.persister.Load(ctx)
		if loadErr != nil {
			s.logger.Warn("load app state failed, starting fresh", zap.Error(loadErr))
			loaded = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if loaded != nil && len(loaded.Conversations) > 0 {
		s.state = *loaded.Clone()
		dirty := false
		if s.state.Find(s.state.ActiveConversationID) < 0 {
			s.state.ActiveConversationID = s.state.Conversations[0].ID
			dirty = true
		}
		if n := s.failStrandedLocked(); n > 0 {
			s.logger.Warn("marked stranded messages as failed", zap.Int("count", n))
			dirty = true
		}
		if dirty {
			s.persistLocked(ctx)
		}
		s.logger.Info("app state loaded",
			zap.Int("conversations", len(s.state.Conversations)),
			zap.String("active", s.state.ActiveConversationID))
		return loadErr
	}

	c := newConversation(nextTitle(nil))
	s.state = AppState{
		Conversations:        []Conversation{c},
		ActiveConversationID: c.ID,
		Version:              StateVersion,
	}
	s.persistLocked(ctx)
	s.publish(bus.KindConversationCreated, ConversationEvent{ConversationID: c.ID, Title: c.Title})
	s.logger.Info("created default conversation", zap.String("id", c.ID))
	return loadErr
}

// failStrandedLocked flips messages still "sending" from a previous run to
// "error". No request can be in flight for them any more.
func (s *Store) failStrandedLocked() int {
	n := 0
	for ci := range s.state.Conversations {
		msgs := s.state.Conversations[ci].Messages
		for mi := range msgs {
			if msgs[mi].Status == StatusSending {
				msgs[mi].Status = StatusError
				n++
			}
		}
	}
	return n
}

// CreateConversation prepends a new conversation and makes it active.
func (s *Store) CreateConversation() (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.state.Conversations) >= MaxConversations {
		return Conversation{}, fmt.Errorf("%w: %d", ErrCapacity, MaxConversations)
	}
	c := newConversation(nextTitle(s.state.Conversations))
	s.state.Conversations = append([]Conversation{c}, s.state.Conversations...)
	s.state.ActiveConversationID = c.ID
	s.persistLocked(context.Background())
	s.publish(bus.KindConversationCreated, ConversationEvent{ConversationID: c.ID, Title: c.Title})
	return c.Clone(), nil
}

// DeleteConversation removes id. If it was active, the first remaining
// conversation becomes active; if none remain a fresh default replaces it.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.state.Find(id)
	if idx < 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	s.state.Conversations = append(s.state.Conversations[:idx:idx], s.state.Conversations[idx+1:]...)

	var created *Conversation
	switch {
	case len(s.state.Conversations) == 0:
		c := newConversation(nextTitle(nil))
		s.state.Conversations = []Conversation{c}
		s.state.ActiveConversationID = c.ID
		created = &c
	case s.state.ActiveConversationID == id || s.state.ActiveConversationID == "":
		s.state.ActiveConversationID = s.state.Conversations[0].ID
	}

	s.persistLocked(context.Background())
	s.publish(bus.KindConversationDeleted, ConversationEvent{ConversationID: id})
	if created != nil {
		s.publish(bus.KindConversationCreated, ConversationEvent{ConversationID: created.ID, Title: created.Title})
	}
	s.publish(bus.KindConversationSwitched, ConversationEvent{ConversationID: s.state.ActiveConversationID})
	return nil
}

// SwitchConversation makes id the active conversation.
func (s *Store) SwitchConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Find(id) < 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	s.state.ActiveConversationID = id
	s.persistLocked(context.Background())
	s.publish(bus.KindConversationSwitched, ConversationEvent{ConversationID: id})
	return nil
}

// AppendMessage appends msg to the active conversation. Without an active
// conversation nothing changes and ErrNotFound is returned.
func (s *Store) AppendMessage(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.state.ActiveConversationID, msg)
}

// AppendMessageTo appends msg to conversation convID.
func (s *Store) AppendMessageTo(convID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(convID, msg)
}

// UpdateMessageStatus overwrites the status of messageID in the active
// conversation. Unknown ids leave the state untouched.
func (s *Store) UpdateMessageStatus(messageID string, status MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(s.state.ActiveConversationID, messageID, status)
}

// UpdateMessageStatusIn is UpdateMessageStatus pinned to conversation convID.
func (s *Store) UpdateMessageStatusIn(convID, messageID string, status MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(convID, messageID, status)
}

func (s *Store) appendLocked(convID string, msg Message) error {
	idx := s.state.Find(convID)
	if idx < 0 {
		return fmt.Errorf("conversation %q: %w", convID, ErrNotFound)
	}
	c := &s.state.Conversations[idx]
	c.Messages = append(c.Messages, msg)
	s.persistLocked(context.Background())
	s.publish(bus.KindMessageAppended, MessageEvent{
		ConversationID: convID,
		MessageID:      msg.ID,
		Role:           msg.Role,
		Status:         msg.Status,
	})
	return nil
}

func (s *Store) updateLocked(convID, messageID string, status MessageStatus) error {
	idx := s.state.Find(convID)
	if idx < 0 {
		return fmt.Errorf("conversation %q: %w", convID, ErrNotFound)
	}
	msgs := s.state.Conversations[idx].Messages
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		msgs[i].Status = status
		s.persistLocked(context.Background())
		s.publish(bus.KindMessageStatusChanged, MessageEvent{
			ConversationID: convID,
			MessageID:      messageID,
			Role:           msgs[i].Role,
			Status:         status,
		})
		return nil
	}
	return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

// State returns a deep copy of the whole AppState.
func (s *Store) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state.Clone()
}

// ActiveID returns the active conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveConversationID
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(s.state.ActiveConversationID)
}

// Conversation returns a copy of conversation id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(id)
}

// Conversations returns copies of all conversations, most recent first.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().Conversations
}

func (s *Store) conversationLocked(id string) (Conversation, bool) {
	idx := s.state.Find(id)
	if idx < 0 {
		return Conversation{}, false
	}
	return s.state.Conversations[idx].Clone(), true
}

// persistLocked saves the current state. Failures never roll memory back.
func (s *Store) persistLocked(ctx context.Context) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, s.state.Clone()); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		s.logger.Error("persist app state failed", zap.Error(err))
		if s.onPersistError != nil {
			s.onPersistError(err)
		}
	}
}

func (s *Store) publish(kind string, payload any) {
	s.bus.Publish(bus.NewEvent(kind, payload))
}

func newConversation(title string) Conversation {
	return Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: time.Now().UnixMilli(),
	}
}

var titlePattern = regexp.MustCompile(`Conversation (\d+)`)

// nextTitle returns "Conversation N" with N one past the highest number used.
func nextTitle(existing []Conversation) string {
	highest := 0
	for _, c := range existing {
		m := titlePattern.FindStringSubmatch(c.Title)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return "Conversation " + strconv.Itoa(highest+1)
}
