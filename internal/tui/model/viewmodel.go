package model

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/status"
)

// Backend is the part of the daemon client the TUI uses.
type Backend interface {
	GetStatus(ctx context.Context) (*api.Status, error)
	ListConversations(ctx context.Context) (*conversation.AppState, error)
	Send(ctx context.Context, content string) (*chat.Outcome, error)
	Cancel(ctx context.Context) (bool, error)
	CreateConversation(ctx context.Context) (*conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	SwitchConversation(ctx context.Context, id string) error
}

// Request mirrors the daemon's request status.
type Request struct {
	Status     status.State
	Message    string
	RetryCount int
}

// Busy reports whether a request is in flight.
func (r Request) Busy() bool { return r.Status == status.Loading }

// ViewModel caches daemon state for the views. The daemon is the source of
// truth; the cache is refreshed on conversation events.
type ViewModel struct {
	mu sync.RWMutex

	backend Backend
	state   *conversation.AppState
	request Request
	Flash   Flash
}

// NewViewModel creates a view model backed by b.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{
		backend: b,
		state:   &conversation.AppState{},
		request: Request{Status: status.Idle},
	}
}

// LoadState fetches every conversation and the active id.
func (vm *ViewModel) LoadState(ctx context.Context) error {
	st, err := vm.backend.ListConversations(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.state = st
	vm.mu.Unlock()
	return nil
}

// LoadStatus fetches the request status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.backend.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.request = Request{
		Status:     status.State(st.Status),
		Message:    st.Message,
		RetryCount: st.RetryCount,
	}
	vm.mu.Unlock()
	return nil
}

// Send trims content and sends it. Blank input is ignored.
func (vm *ViewModel) Send(ctx context.Context, content string) (*chat.Outcome, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	return vm.backend.Send(ctx, content)
}

// Cancel aborts the in-flight request, if any.
func (vm *ViewModel) Cancel(ctx context.Context) (bool, error) {
	if !vm.Request().Busy() {
		return false, nil
	}
	return vm.backend.Cancel(ctx)
}

// NewConversation creates and activates a conversation.
func (vm *ViewModel) NewConversation(ctx context.Context) (*conversation.Conversation, error) {
	c, err := vm.backend.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}
	return c, vm.LoadState(ctx)
}

// DeleteConversation removes id.
func (vm *ViewModel) DeleteConversation(ctx context.Context, id string) error {
	if err := vm.backend.DeleteConversation(ctx, id); err != nil {
		return err
	}
	return vm.LoadState(ctx)
}

// Switch activates id.
func (vm *ViewModel) Switch(ctx context.Context, id string) error {
	if err := vm.backend.SwitchConversation(ctx, id); err != nil {
		return err
	}
	return vm.LoadState(ctx)
}

// ApplyEvent folds a daemon event into the cache. Reports whether the
// conversation list must be reloaded.
func (vm *ViewModel) ApplyEvent(evt *api.EventEnvelope) bool {
	switch evt.Kind {
	case bus.KindRequestStatusChanged:
		var change status.StatusChange
		if err := json.Unmarshal(evt.Payload, &change); err != nil {
			return false
		}
		vm.mu.Lock()
		vm.request.Status = change.To
		vm.request.Message = change.Message
		if change.To == status.Loading || change.To == status.Idle {
			vm.request.RetryCount = 0
		}
		vm.mu.Unlock()
		return false
	case bus.KindRequestRetrying:
		var retry chat.RetryEvent
		if err := json.Unmarshal(evt.Payload, &retry); err != nil {
			return false
		}
		vm.mu.Lock()
		vm.request.RetryCount = retry.Attempt
		vm.mu.Unlock()
		return false
	}
	return strings.HasPrefix(evt.Kind, "conversation.")
}

// Conversations returns a snapshot of the conversation list, newest first.
func (vm *ViewModel) Conversations() []conversation.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state.Clone().Conversations
}

// ActiveID returns the active conversation id.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state.ActiveConversationID
}

// Active returns a copy of the active conversation, or nil before the first
// load.
func (vm *ViewModel) Active() *conversation.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	i := vm.state.Find(vm.state.ActiveConversationID)
	if i < 0 {
		return nil
	}
	c := vm.state.Conversations[i].Clone()
	return &c
}

// Request returns the mirrored request status.
func (vm *ViewModel) Request() Request {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.request
}
