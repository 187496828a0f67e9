package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/status"
)

type fakeBackend struct {
	state     *conversation.AppState
	sent      []string
	cancels   int
	switched  string
	deleted   string
	sendErr   error
	listCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{state: &conversation.AppState{
		Conversations: []conversation.Conversation{
			{ID: "c2", Title: "Conversation 2"},
			{ID: "c1", Title: "Conversation 1", Messages: []conversation.Message{
				{ID: "m1", Role: conversation.RoleUser, Content: "hi", Status: conversation.StatusSent},
			}},
		},
		ActiveConversationID: "c1",
		Version:              conversation.StateVersion,
	}}
}

func (f *fakeBackend) GetStatus(context.Context) (*api.Status, error) {
	return &api.Status{Status: "error", Message: "boom", RetryCount: 2}, nil
}

func (f *fakeBackend) ListConversations(context.Context) (*conversation.AppState, error) {
	f.listCalls++
	return f.state.Clone(), nil
}

func (f *fakeBackend) Send(_ context.Context, content string) (*chat.Outcome, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, content)
	return &chat.Outcome{Status: status.Success}, nil
}

func (f *fakeBackend) Cancel(context.Context) (bool, error) {
	f.cancels++
	return true, nil
}

func (f *fakeBackend) CreateConversation(context.Context) (*conversation.Conversation, error) {
	c := conversation.Conversation{ID: "c3", Title: "Conversation 3"}
	f.state.Conversations = append([]conversation.Conversation{c}, f.state.Conversations...)
	f.state.ActiveConversationID = c.ID
	return &c, nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	if f.state.Find(id) < 0 {
		return conversation.ErrNotFound
	}
	f.deleted = id
	return nil
}

func (f *fakeBackend) SwitchConversation(_ context.Context, id string) error {
	f.switched = id
	f.state.ActiveConversationID = id
	return nil
}

func envelope(t *testing.T, kind string, payload any) *api.EventEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &api.EventEnvelope{Kind: kind, Payload: raw}
}

func TestLoadStateAndActive(t *testing.T) {
	vm := NewViewModel(newFakeBackend())
	if vm.Active() != nil {
		t.Fatal("expected no active conversation before load")
	}
	if err := vm.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	active := vm.Active()
	if active == nil || active.ID != "c1" || len(active.Messages) != 1 {
		t.Fatalf("unexpected active conversation: %+v", active)
	}
	if got := len(vm.Conversations()); got != 2 {
		t.Errorf("expected 2 conversations, got %d", got)
	}
}

func TestLoadStatus(t *testing.T) {
	vm := NewViewModel(newFakeBackend())
	if err := vm.LoadStatus(context.Background()); err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	req := vm.Request()
	if req.Status != status.Error || req.Message != "boom" || req.RetryCount != 2 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestSendIgnoresBlankInput(t *testing.T) {
	fb := newFakeBackend()
	vm := NewViewModel(fb)
	out, err := vm.Send(context.Background(), "   ")
	if err != nil || out != nil {
		t.Fatalf("expected blank input to be ignored, got %v, %v", out, err)
	}
	if _, err := vm.Send(context.Background(), "  Hello \n"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0] != "Hello" {
		t.Errorf("expected trimmed content, got %q", fb.sent)
	}
}

func TestSendPropagatesBusy(t *testing.T) {
	fb := newFakeBackend()
	fb.sendErr = chat.ErrBusy
	vm := NewViewModel(fb)
	if _, err := vm.Send(context.Background(), "x"); !errors.Is(err, chat.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestCancelOnlyWhileLoading(t *testing.T) {
	fb := newFakeBackend()
	vm := NewViewModel(fb)

	ok, err := vm.Cancel(context.Background())
	if err != nil || ok {
		t.Fatalf("expected no-op cancel while idle, got %v, %v", ok, err)
	}
	if fb.cancels != 0 {
		t.Fatal("backend should not be called while idle")
	}

	vm.ApplyEvent(envelope(t, bus.KindRequestStatusChanged, status.StatusChange{From: status.Idle, To: status.Loading}))
	ok, err = vm.Cancel(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected cancel while loading, got %v, %v", ok, err)
	}
	if fb.cancels != 1 {
		t.Errorf("expected 1 backend cancel, got %d", fb.cancels)
	}
}

func TestApplyEventTracksRequest(t *testing.T) {
	vm := NewViewModel(newFakeBackend())

	vm.ApplyEvent(envelope(t, bus.KindRequestStatusChanged, status.StatusChange{From: status.Idle, To: status.Loading}))
	vm.ApplyEvent(envelope(t, bus.KindRequestRetrying, chat.RetryEvent{Attempt: 2, DelayMs: 2000}))
	if req := vm.Request(); !req.Busy() || req.RetryCount != 2 {
		t.Fatalf("unexpected request while retrying: %+v", req)
	}

	vm.ApplyEvent(envelope(t, bus.KindRequestStatusChanged, status.StatusChange{From: status.Loading, To: status.Error, Message: chat.MsgUnavailable}))
	req := vm.Request()
	if req.Status != status.Error || req.Message != chat.MsgUnavailable {
		t.Fatalf("unexpected request after failure: %+v", req)
	}
	if req.RetryCount != 2 {
		t.Errorf("retry count should survive into the terminal state, got %d", req.RetryCount)
	}

	vm.ApplyEvent(envelope(t, bus.KindRequestStatusChanged, status.StatusChange{From: status.Error, To: status.Idle}))
	if req := vm.Request(); req.Status != status.Idle || req.RetryCount != 0 {
		t.Errorf("unexpected request after revert: %+v", req)
	}
}

func TestApplyEventRequestsReload(t *testing.T) {
	vm := NewViewModel(newFakeBackend())
	if !vm.ApplyEvent(&api.EventEnvelope{Kind: bus.KindMessageAppended}) {
		t.Error("message events should trigger a reload")
	}
	if vm.ApplyEvent(&api.EventEnvelope{Kind: bus.KindRequestStatusChanged, Payload: json.RawMessage(`not json`)}) {
		t.Error("request events should not trigger a reload")
	}
}

func TestConversationMutationsReload(t *testing.T) {
	fb := newFakeBackend()
	vm := NewViewModel(fb)
	ctx := context.Background()

	c, err := vm.NewConversation(ctx)
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if vm.ActiveID() != c.ID {
		t.Errorf("expected %s active, got %s", c.ID, vm.ActiveID())
	}
	if err := vm.Switch(ctx, "c2"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if vm.ActiveID() != "c2" || fb.switched != "c2" {
		t.Errorf("switch not applied: active=%s", vm.ActiveID())
	}
	if err := vm.DeleteConversation(ctx, "nope"); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if fb.listCalls != 2 {
		t.Errorf("expected 2 reloads, got %d", fb.listCalls)
	}
}

func TestFlashExpires(t *testing.T) {
	var f Flash
	f.Err(errors.New("nope"), time.Hour)
	if msg, level := f.Get(); msg != "nope" || level != FlashErr {
		t.Fatalf("unexpected flash: %q %v", msg, level)
	}
	f.Info("gone", -time.Second)
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("expected expired flash, got %q", msg)
	}
}
