// Package chat ties one user send to the conversation store, the request
// orchestrator and the request status machine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/cancel"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/llm"
	"github.com/matheus3301/minichat/internal/status"
	"go.uber.org/zap"
)

// MaxContentLength is the longest message, in characters, the controller sends.
const MaxContentLength = 4000

const (
	DefaultSuccessRevert = 100 * time.Millisecond
	DefaultFailureRevert = 5000 * time.Millisecond
)

// User-facing messages shown for a failed request.
const (
	MsgCancelled   = "Request cancelled"
	MsgTimedOut    = "Request took too long. Please try again."
	MsgUnavailable = "Service temporarily unavailable. Please try again."
	MsgUnreachable = "Unable to reach the chat service. Please try again."
)

var (
	ErrBusy           = errors.New("a request is already in flight")
	ErrClosed         = errors.New("controller closed")
	ErrInvalidContent = fmt.Errorf("%w: message must be 1-%d characters", llm.ErrInvalidRequest, MaxContentLength)
)

// Options tunes a Controller.
type Options struct {
	Request       llm.Options
	SuccessRevert time.Duration
	FailureRevert time.Duration

	// ReportError, if set, receives every request failure except cancellation.
	ReportError func(error)
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Request:       llm.DefaultOptions(),
		SuccessRevert: DefaultSuccessRevert,
		FailureRevert: DefaultFailureRevert,
	}
}

// RequestState describes the one live request.
type RequestState struct {
	Status     status.State `json:"status"`
	Error      string       `json:"error,omitempty"`
	RetryCount int          `json:"retryCount"`
	StartTime  time.Time    `json:"startTime,omitzero"`
}

// Outcome is what one Send produced.
type Outcome struct {
	ConversationID   string                `json:"conversationId"`
	UserMessage      conversation.Message  `json:"userMessage"`
	AssistantMessage *conversation.Message `json:"assistantMessage,omitempty"`
	Status           status.State          `json:"status"`
	Error            string                `json:"error,omitempty"`
	Attempts         int                   `json:"attempts"`

	Err error `json:"-"`
}

// RetryEvent is the payload of request.retrying events.
type RetryEvent struct {
	ConversationID string `json:"conversation_id"`
	Attempt        int    `json:"attempt"`
	DelayMs        int64  `json:"delay_ms"`
	Error          string `json:"error"`
}

// Controller runs at most one request at a time.
type Controller struct {
	store   *conversation.Store
	machine *status.Machine
	orch    *llm.Orchestrator
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu      sync.Mutex
	req     RequestState
	convID  string
	token   *cancel.Token
	revert  *time.Timer
	revertN uint64 // bumped whenever a pending revert is replaced
	closed  bool
}

// NewController creates a controller that sends through completer.
func NewController(st *conversation.Store, machine *status.Machine, completer llm.Completer, b *bus.Bus, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SuccessRevert <= 0 {
		opts.SuccessRevert = DefaultSuccessRevert
	}
	if opts.FailureRevert <= 0 {
		opts.FailureRevert = DefaultFailureRevert
	}
	c := &Controller{
		store:   st,
		machine: machine,
		bus:     b,
		logger:  logger,
		req:     RequestState{Status: status.Idle},
	}
	next := opts.Request.OnRetry
	opts.Request.OnRetry = func(attempt int, delay time.Duration, cause error) {
		c.noteRetry(attempt, delay, cause)
		if next != nil {
			next(attempt, delay, cause)
		}
	}
	c.opts = opts
	c.orch = llm.NewOrchestrator(completer, opts.Request, logger.Named("llm"))
	return c
}

// State returns a copy of the current request state.
func (c *Controller) State() RequestState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Send validates content, appends it to the active conversation and blocks
// until the request reaches a terminal status. Request failures are reported
// in the Outcome; the returned error is only for sends that never started.
func (c *Controller) Send(ctx context.Context, content string) (*Outcome, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrInvalidContent
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.req.Status == status.Loading {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	convID := c.store.ActiveID()
	if convID == "" {
		c.mu.Unlock()
		return nil, fmt.Errorf("no active conversation: %w", conversation.ErrNotFound)
	}
	c.stopRevertLocked()
	token := cancel.New()
	c.token = token
	c.convID = convID
	c.req = RequestState{Status: status.Loading, StartTime: time.Now()}
	if err := c.machine.Transition(status.Loading); err != nil {
		c.logger.Warn("unexpected status transition", zap.Error(err))
	}
	c.mu.Unlock()

	log := c.logger.With(zap.String("conversation_id", convID))
	out := &Outcome{ConversationID: convID, UserMessage: conversation.NewUserMessage(content)}
	if err := c.store.AppendMessageTo(convID, out.UserMessage); err != nil {
		log.Error("failed to append user message", zap.Error(err))
		return c.fail(log, out, false, &llm.Error{Kind: llm.KindInvalidRequest, Message: "conversation no longer exists", Err: err}), nil
	}

	res, err := c.orch.Send(ctx, content, token)
	if err != nil {
		return c.fail(log, out, true, err), nil
	}

	out.Attempts = res.Attempts
	if err := c.store.UpdateMessageStatusIn(convID, out.UserMessage.ID, conversation.StatusSent); err != nil {
		log.Warn("failed to mark user message sent", zap.Error(err))
	}
	out.UserMessage.Status = conversation.StatusSent
	reply := conversation.NewAssistantMessage(res.Completion)
	if err := c.store.AppendMessageTo(convID, reply); err != nil {
		log.Warn("failed to append assistant message", zap.Error(err))
	}
	out.AssistantMessage = &reply
	out.Status = status.Success

	c.mu.Lock()
	c.finishLocked(status.Success, "", c.opts.SuccessRevert)
	c.mu.Unlock()

	log.Info("completion received",
		zap.String("message_id", out.UserMessage.ID),
		zap.Int("attempts", res.Attempts))
	return out, nil
}

// fail records err against the user message and moves to the matching
// terminal status. When appended is false there is no message to update.
func (c *Controller) fail(log *zap.Logger, out *Outcome, appended bool, err error) *Outcome {
	st, msg, msgStatus := describe(err)
	out.Status = st
	out.Error = msg
	out.Err = err
	var lerr *llm.Error
	if errors.As(err, &lerr) {
		out.Attempts = lerr.Attempts
	}

	if appended {
		if uerr := c.store.UpdateMessageStatusIn(out.ConversationID, out.UserMessage.ID, msgStatus); uerr != nil {
			log.Warn("failed to update user message", zap.Error(uerr))
		}
		out.UserMessage.Status = msgStatus
	}

	c.mu.Lock()
	c.finishLocked(st, msg, c.opts.FailureRevert)
	c.mu.Unlock()

	if st == status.Cancelled {
		log.Info("request cancelled", zap.String("message_id", out.UserMessage.ID))
		return out
	}
	log.Warn("request failed",
		zap.String("message_id", out.UserMessage.ID),
		zap.String("status", string(st)),
		zap.Error(err))
	if c.opts.ReportError != nil {
		c.opts.ReportError(err)
	}
	return out
}

// describe maps a send failure to its request status, user-facing message
// and the status its user message ends in.
func describe(err error) (status.State, string, conversation.MessageStatus) {
	switch llm.KindOf(err) {
	case llm.KindCancelled:
		return status.Cancelled, MsgCancelled, conversation.StatusCancelled
	case llm.KindTimedOut:
		return status.Timeout, MsgTimedOut, conversation.StatusError
	case llm.KindNetworkFailure:
		return status.Error, MsgUnreachable, conversation.StatusError
	case llm.KindInvalidRequest:
		var lerr *llm.Error
		if errors.As(err, &lerr) && lerr.Message != "" {
			return status.Error, lerr.Message, conversation.StatusError
		}
		return status.Error, err.Error(), conversation.StatusError
	default:
		return status.Error, MsgUnavailable, conversation.StatusError
	}
}

func (c *Controller) finishLocked(st status.State, msg string, revertAfter time.Duration) {
	c.token = nil
	c.req.Status = st
	c.req.Error = msg
	if err := c.machine.TransitionWithMessage(st, msg); err != nil {
		c.logger.Warn("unexpected status transition", zap.Error(err))
	}
	if c.closed {
		return
	}
	n := c.revertN
	c.revert = time.AfterFunc(revertAfter, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.revertN != n || c.closed || !c.req.Status.IsTerminal() {
			return
		}
		c.req = RequestState{Status: status.Idle}
		c.convID = ""
		if err := c.machine.Transition(status.Idle); err != nil {
			c.logger.Warn("unexpected status transition", zap.Error(err))
		}
	})
}

func (c *Controller) stopRevertLocked() {
	c.revertN++
	if c.revert != nil {
		c.revert.Stop()
		c.revert = nil
	}
}

func (c *Controller) noteRetry(attempt int, delay time.Duration, cause error) {
	c.mu.Lock()
	c.req.RetryCount = attempt
	convID := c.convID
	c.mu.Unlock()

	c.bus.Publish(bus.NewEvent(bus.KindRequestRetrying, RetryEvent{
		ConversationID: convID,
		Attempt:        attempt,
		DelayMs:        delay.Milliseconds(),
		Error:          cause.Error(),
	}))
}

// Cancel stops the in-flight request, if any. Reports whether there was one.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == nil {
		return false
	}
	token.Cancel()
	return true
}

// Close cancels any in-flight request and stops pending timers. Later sends
// fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRevertLocked()
	if c.token != nil {
		c.token.Cancel()
	}
}
