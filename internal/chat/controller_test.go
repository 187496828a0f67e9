package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/minichat/internal/backoff"
	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/llm"
	"github.com/matheus3301/minichat/internal/status"
	"go.uber.org/zap"
)

// fakeCompleter replays one step per call; the last step repeats.
type fakeCompleter struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (*llm.Reply, error)
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, _ string) (*llm.Reply, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.steps)-1)
	f.calls++
	step := f.steps[i]
	f.mu.Unlock()
	return step(ctx)
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func reply(code int, completion, errMsg string) func(context.Context) (*llm.Reply, error) {
	return func(context.Context) (*llm.Reply, error) {
		return &llm.Reply{StatusCode: code, Completion: completion, Error: errMsg}, nil
	}
}

func hang(ctx context.Context) (*llm.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	ctrl   *Controller
	store  *conversation.Store
	bus    *bus.Bus
	comp   *fakeCompleter
	events <-chan bus.Event
}

func testOptions() Options {
	return Options{
		Request: llm.Options{
			AttemptTimeout: 2 * time.Second,
			MaxRetries:     3,
			Backoff:        backoff.Policy{Base: time.Millisecond},
		},
		SuccessRevert: 20 * time.Millisecond,
		FailureRevert: 40 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options, steps ...func(context.Context) (*llm.Reply, error)) *harness {
	t.Helper()
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindRequestStatusChanged, 64)
	t.Cleanup(unsub)

	st := conversation.NewStore(nil, conversation.WithBus(b))
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	comp := &fakeCompleter{steps: steps}
	ctrl := NewController(st, status.NewMachine(b), comp, b, zap.NewNop(), opts)
	t.Cleanup(ctrl.Close)
	return &harness{ctrl: ctrl, store: st, bus: b, comp: comp, events: events}
}

// expectStatuses reads status change events until want has been seen in order.
func (h *harness) expectStatuses(t *testing.T, want ...status.State) {
	t.Helper()
	for _, w := range want {
		select {
		case evt := <-h.events:
			got := evt.Payload.(status.StatusChange).To
			if got != w {
				t.Fatalf("expected status %s, got %s", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for status %s", w)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendHelloAfterOneServerFault(t *testing.T) {
	h := newHarness(t, testOptions(),
		reply(500, "", "mock-llm failure"),
		reply(200, "Hi there!", ""),
	)

	out, err := h.ctrl.Send(context.Background(), "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != status.Success {
		t.Fatalf("expected success, got %s (%s)", out.Status, out.Error)
	}
	if out.Attempts != 2 || h.comp.Calls() != 2 {
		t.Errorf("expected 2 attempts, got %d (calls %d)", out.Attempts, h.comp.Calls())
	}

	active, _ := h.store.Active()
	if len(active.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(active.Messages))
	}
	user, assistant := active.Messages[0], active.Messages[1]
	if user.Content != "Hello" || user.Status != conversation.StatusSent {
		t.Errorf("unexpected user message %+v", user)
	}
	if assistant.Role != conversation.RoleAssistant || assistant.Content != "Hi there!" || assistant.Status != conversation.StatusSent {
		t.Errorf("unexpected assistant message %+v", assistant)
	}

	h.expectStatuses(t, status.Loading, status.Success, status.Idle)
	if got := h.ctrl.State(); got.Status != status.Idle || got.RetryCount != 0 {
		t.Errorf("expected clean idle state, got %+v", got)
	}
}

func TestSendImmediateCancel(t *testing.T) {
	h := newHarness(t, testOptions(), hang)

	done := make(chan *Outcome, 1)
	go func() {
		out, err := h.ctrl.Send(context.Background(), "Hello")
		if err != nil {
			t.Error(err)
		}
		done <- out
	}()

	waitFor(t, func() bool { return h.ctrl.State().Status == status.Loading })
	if !h.ctrl.Cancel() {
		t.Error("Cancel should report an in-flight request")
	}

	var out *Outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancel")
	}
	if out.Status != status.Cancelled || out.Error != MsgCancelled {
		t.Errorf("expected cancelled outcome, got %s %q", out.Status, out.Error)
	}
	if out.AssistantMessage != nil {
		t.Error("cancelled send must not produce an assistant message")
	}

	active, _ := h.store.Active()
	if len(active.Messages) != 1 {
		t.Fatalf("expected only the user message, got %d", len(active.Messages))
	}
	if active.Messages[0].Status != conversation.StatusCancelled {
		t.Errorf("expected cancelled user message, got %s", active.Messages[0].Status)
	}
	h.expectStatuses(t, status.Loading, status.Cancelled, status.Idle)
}

func TestSendFailureMapping(t *testing.T) {
	tests := []struct {
		name      string
		steps     []func(context.Context) (*llm.Reply, error)
		timeout   time.Duration
		status    status.State
		message   string
		msgStatus conversation.MessageStatus
	}{
		{
			name:      "retries exhausted",
			steps:     []func(context.Context) (*llm.Reply, error){reply(500, "", "mock-llm failure")},
			status:    status.Error,
			message:   MsgUnavailable,
			msgStatus: conversation.StatusError,
		},
		{
			name:      "bad gateway retried until exhausted",
			steps:     []func(context.Context) (*llm.Reply, error){reply(502, "", "Failed to reach backend service")},
			status:    status.Error,
			message:   MsgUnavailable,
			msgStatus: conversation.StatusError,
		},
		{
			name:      "rejected",
			steps:     []func(context.Context) (*llm.Reply, error){reply(400, "", "Message too long")},
			status:    status.Error,
			message:   "Message too long",
			msgStatus: conversation.StatusError,
		},
		{
			name:      "timeout",
			steps:     []func(context.Context) (*llm.Reply, error){hang},
			timeout:   20 * time.Millisecond,
			status:    status.Timeout,
			message:   MsgTimedOut,
			msgStatus: conversation.StatusError,
		},
		{
			name: "unreachable",
			steps: []func(context.Context) (*llm.Reply, error){func(context.Context) (*llm.Reply, error) {
				return nil, errors.New("connection refused")
			}},
			status:    status.Error,
			message:   MsgUnavailable,
			msgStatus: conversation.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.timeout > 0 {
				opts.Request.AttemptTimeout = tt.timeout
			}
			var reported []error
			opts.ReportError = func(err error) { reported = append(reported, err) }
			h := newHarness(t, opts, tt.steps...)

			out, err := h.ctrl.Send(context.Background(), "Hello")
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != tt.status || out.Error != tt.message {
				t.Errorf("expected %s %q, got %s %q", tt.status, tt.message, out.Status, out.Error)
			}
			if got := h.ctrl.State(); got.Status != tt.status || got.Error != tt.message {
				t.Errorf("request state %+v", got)
			}
			active, _ := h.store.Active()
			if active.Messages[0].Status != tt.msgStatus {
				t.Errorf("expected user message %s, got %s", tt.msgStatus, active.Messages[0].Status)
			}
			if len(reported) != 1 {
				t.Errorf("expected 1 reported error, got %d", len(reported))
			}
			h.expectStatuses(t, status.Loading, tt.status, status.Idle)
		})
	}
}

func TestSendBadEndpointIsUnreachable(t *testing.T) {
	h := newHarness(t, testOptions(), func(context.Context) (*llm.Reply, error) {
		return nil, llm.ErrBadEndpoint
	})
	out, err := h.ctrl.Send(context.Background(), "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if out.Error != MsgUnreachable {
		t.Errorf("expected %q, got %q", MsgUnreachable, out.Error)
	}
	if !errors.Is(out.Err, llm.ErrNetworkFailure) {
		t.Errorf("expected network failure, got %v", out.Err)
	}
}

func TestSendRejectsInvalidContent(t *testing.T) {
	h := newHarness(t, testOptions(), reply(200, "ok", ""))

	for _, content := range []string{"", "   \n\t", strings.Repeat("é", MaxContentLength+1)} {
		_, err := h.ctrl.Send(context.Background(), content)
		if !errors.Is(err, ErrInvalidContent) || !errors.Is(err, llm.ErrInvalidRequest) {
			t.Errorf("content len %d: expected ErrInvalidContent, got %v", len(content), err)
		}
	}
	if h.comp.Calls() != 0 {
		t.Error("invalid content must not reach the network")
	}
	active, _ := h.store.Active()
	if len(active.Messages) != 0 {
		t.Error("invalid content must not create messages")
	}
	if h.ctrl.State().Status != status.Idle {
		t.Error("invalid content must not leave idle")
	}

	out, err := h.ctrl.Send(context.Background(), strings.Repeat("é", MaxContentLength))
	if err != nil || out.Status != status.Success {
		t.Errorf("content at the limit should be accepted: %v", err)
	}
}

func TestSendWhileLoadingIsBusy(t *testing.T) {
	h := newHarness(t, testOptions(), hang)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.Send(context.Background(), "first")
	}()
	waitFor(t, func() bool { return h.ctrl.State().Status == status.Loading })

	if _, err := h.ctrl.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	h.ctrl.Cancel()
	<-done

	active, _ := h.store.Active()
	if len(active.Messages) != 1 {
		t.Errorf("busy send must not append, got %d messages", len(active.Messages))
	}
}

func TestNewSendReplacesPendingRevert(t *testing.T) {
	opts := testOptions()
	opts.FailureRevert = 100 * time.Millisecond
	h := newHarness(t, opts, reply(400, "", "nope"), reply(200, "ok", ""))

	out, _ := h.ctrl.Send(context.Background(), "first")
	if out.Status != status.Error {
		t.Fatalf("expected error, got %s", out.Status)
	}
	out, _ = h.ctrl.Send(context.Background(), "second")
	if out.Status != status.Success {
		t.Fatalf("expected success, got %s", out.Status)
	}

	// error -> loading -> success -> idle, with no stray idle from the first revert.
	h.expectStatuses(t, status.Loading, status.Error, status.Loading, status.Success, status.Idle)
	time.Sleep(150 * time.Millisecond)
	select {
	case evt := <-h.events:
		t.Errorf("unexpected status change %+v", evt.Payload)
	default:
	}
}

func TestRetryUpdatesStateAndPublishes(t *testing.T) {
	opts := testOptions()
	opts.Request.Backoff = backoff.Policy{Base: 30 * time.Millisecond}
	h := newHarness(t, opts, reply(500, "", "boom"), reply(200, "ok", ""))
	retries, unsub := h.bus.Subscribe(bus.KindRequestRetrying, 4)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.Send(context.Background(), "Hello")
	}()

	select {
	case evt := <-retries:
		re := evt.Payload.(RetryEvent)
		if re.Attempt != 1 || re.DelayMs != 30 {
			t.Errorf("unexpected retry event %+v", re)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no retry event")
	}
	if got := h.ctrl.State().RetryCount; got != 1 {
		t.Errorf("expected retry count 1, got %d", got)
	}
	<-done
}

func TestCloseCancelsAndRejects(t *testing.T) {
	h := newHarness(t, testOptions(), hang)

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := h.ctrl.Send(context.Background(), "Hello")
		done <- out
	}()
	waitFor(t, func() bool { return h.ctrl.State().Status == status.Loading })
	h.ctrl.Close()

	out := <-done
	if out.Status != status.Cancelled {
		t.Errorf("expected cancelled, got %s", out.Status)
	}
	if _, err := h.ctrl.Send(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	active, _ := h.store.Active()
	for _, m := range active.Messages {
		if m.Status == conversation.StatusSending {
			t.Errorf("message %s left sending", m.ID)
		}
	}
}

func TestRequestSurvivesConversationSwitch(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, testOptions(), func(ctx context.Context) (*llm.Reply, error) {
		<-release
		return &llm.Reply{StatusCode: 200, Completion: "late"}, nil
	})
	origin := h.store.ActiveID()

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := h.ctrl.Send(context.Background(), "Hello")
		done <- out
	}()
	waitFor(t, func() bool { return h.comp.Calls() == 1 })
	if _, err := h.store.CreateConversation(); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-done

	c, _ := h.store.Conversation(origin)
	if len(c.Messages) != 2 || c.Messages[0].Status != conversation.StatusSent || c.Messages[1].Content != "late" {
		t.Errorf("origin conversation not resolved: %+v", c.Messages)
	}
	active, _ := h.store.Active()
	if len(active.Messages) != 0 {
		t.Error("reply leaked into the new conversation")
	}
}
