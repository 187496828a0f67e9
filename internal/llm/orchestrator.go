package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/minichat/internal/backoff"
	"github.com/matheus3301/minichat/internal/cancel"
	"go.uber.org/zap"
)

const (
	// DefaultAttemptTimeout bounds a single network attempt.
	DefaultAttemptTimeout = 12000 * time.Millisecond
	// DefaultMaxRetries is how many retries follow the first attempt.
	DefaultMaxRetries = 3
)

// Options tunes the attempt loop.
type Options struct {
	AttemptTimeout time.Duration
	MaxRetries     int
	Backoff        backoff.Policy

	// OnRetry, if set, is called before each backoff wait with the retry
	// number (1-based), the wait and the failure that caused it.
	OnRetry func(attempt int, delay time.Duration, cause error)
}

// DefaultOptions returns a 12s deadline, 3 retries and 1s/2s/4s backoff.
func DefaultOptions() Options {
	return Options{
		AttemptTimeout: DefaultAttemptTimeout,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        backoff.Default(),
	}
}

// Result is a successful send.
type Result struct {
	Completion string
	Attempts   int
}

// Orchestrator drives one send through deadline-bounded attempts, classified
// retries and cooperative cancellation. It never touches application state;
// everything it learns is reported through its return values.
type Orchestrator struct {
	completer Completer
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator. Non-positive timeouts and backoff
// bases fall back to the defaults.
func NewOrchestrator(c Completer, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = backoff.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{completer: c, opts: opts, logger: logger}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeCancelled
	outcomeTimedOut
	outcomeServerFault
	outcomeGatewayFault
	outcomeClientFault
	outcomeUnavailable
	outcomeTransport
	outcomeUnbuildable
)

type attemptResult struct {
	reply *Reply
	err   error
}

// Send returns the completion for content, or an *Error. Cancelling token, or
// ctx, stops the send at the next suspension point and always wins over a
// response that arrives at the same time.
func (o *Orchestrator) Send(ctx context.Context, content string, token *cancel.Token) (Result, error) {
	retries := 0
	issued := 0
	for {
		if cancelled(ctx, token) {
			return Result{}, &Error{Kind: KindCancelled, Attempts: issued, Err: ctx.Err()}
		}

		issued++
		res, out := o.attempt(ctx, content, token)
		log := o.logger.With(zap.Int("attempt", issued))

		switch out {
		case outcomeSuccess:
			log.Debug("completion received")
			return Result{Completion: res.reply.Completion, Attempts: issued}, nil

		case outcomeCancelled:
			log.Info("request cancelled")
			return Result{}, &Error{Kind: KindCancelled, Attempts: issued, Err: ctx.Err()}

		case outcomeTimedOut:
			log.Warn("attempt deadline exceeded", zap.Duration("timeout", o.opts.AttemptTimeout))
			return Result{}, &Error{
				Kind:     KindTimedOut,
				Attempts: issued,
				Err:      fmt.Errorf("no response within %s", o.opts.AttemptTimeout),
			}

		case outcomeClientFault:
			log.Warn("request rejected", zap.Int("status", res.reply.StatusCode), zap.String("error", res.reply.Error))
			return Result{}, &Error{Kind: KindInvalidRequest, Attempts: issued, Message: serverMessage(res.reply)}

		case outcomeUnavailable:
			log.Warn("service unavailable", zap.Int("status", res.reply.StatusCode), zap.String("error", res.reply.Error))
			return Result{}, &Error{Kind: KindServiceUnavailable, Attempts: issued, Message: serverMessage(res.reply)}

		case outcomeUnbuildable:
			log.Error("cannot build request", zap.Error(res.err))
			return Result{}, &Error{Kind: KindNetworkFailure, Attempts: issued, Err: res.err}

		case outcomeServerFault, outcomeGatewayFault, outcomeTransport:
			cause := failureCause(res, out)
			if retries >= o.opts.MaxRetries {
				log.Error("retries exhausted", zap.Error(cause))
				exhausted := &Error{Kind: KindRetriesExhausted, Attempts: issued, Err: cause}
				if res.reply != nil {
					exhausted.Message = serverMessage(res.reply)
				}
				return Result{}, exhausted
			}
			retries++
			delay := o.opts.Backoff.DelayForAttempt(retries)
			log.Warn("attempt failed, retrying",
				zap.Error(cause),
				zap.Int("retry", retries),
				zap.Int("max_retries", o.opts.MaxRetries),
				zap.Duration("backoff", delay))
			if o.opts.OnRetry != nil {
				o.opts.OnRetry(retries, delay, cause)
			}
			if !wait(ctx, token, delay) {
				log.Info("request cancelled during backoff")
				return Result{}, &Error{Kind: KindCancelled, Attempts: issued, Err: ctx.Err()}
			}
		}
	}
}

// attempt races one Complete call against the deadline and the token. When
// the call loses, its context is cancelled and its result is dropped into a
// buffered channel nobody reads.
func (o *Orchestrator) attempt(ctx context.Context, content string, token *cancel.Token) (attemptResult, outcome) {
	attemptCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	results := make(chan attemptResult, 1)
	go func() {
		reply, err := o.completer.Complete(attemptCtx, content)
		results <- attemptResult{reply: reply, err: err}
	}()

	deadline := time.NewTimer(o.opts.AttemptTimeout)
	defer deadline.Stop()

	select {
	case res := <-results:
		if cancelled(ctx, token) {
			return res, outcomeCancelled
		}
		return res, classify(res)
	case <-deadline.C:
		if cancelled(ctx, token) {
			return attemptResult{}, outcomeCancelled
		}
		return attemptResult{}, outcomeTimedOut
	case <-token.Done():
		return attemptResult{}, outcomeCancelled
	case <-ctx.Done():
		return attemptResult{}, outcomeCancelled
	}
}

func classify(res attemptResult) outcome {
	if res.err != nil {
		if errors.Is(res.err, ErrBadEndpoint) {
			return outcomeUnbuildable
		}
		return outcomeTransport
	}
	code := res.reply.StatusCode
	switch {
	case code >= 200 && code < 300:
		return outcomeSuccess
	case code == http.StatusInternalServerError:
		return outcomeServerFault
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		// The proxy answers these when the backend behind it is unreachable.
		return outcomeGatewayFault
	case code >= 400 && code < 500:
		return outcomeClientFault
	default:
		return outcomeUnavailable
	}
}

func failureCause(res attemptResult, out outcome) error {
	switch out {
	case outcomeTransport:
		return &Error{Kind: KindNetworkFailure, Err: res.err}
	case outcomeGatewayFault:
		return &Error{Kind: KindNetworkFailure, Message: serverMessage(res.reply)}
	}
	return &Error{Kind: KindServiceUnavailable, Message: serverMessage(res.reply)}
}

func serverMessage(r *Reply) string {
	if r.Error != "" {
		return r.Error
	}
	return fmt.Sprintf("status %d", r.StatusCode)
}

func cancelled(ctx context.Context, token *cancel.Token) bool {
	return token.IsCancelled() || ctx.Err() != nil
}

// wait sleeps for d unless the token or ctx fire first. Reports whether the
// caller may go on.
func wait(ctx context.Context, token *cancel.Token, d time.Duration) bool {
	if d <= 0 {
		return !cancelled(ctx, token)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-token.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
