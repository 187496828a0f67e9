package llm

import (
	"errors"
	"fmt"
)

// Kind classifies why a send did not produce a completion.
type Kind int

const (
	KindCancelled Kind = iota + 1
	KindTimedOut
	KindServiceUnavailable
	KindInvalidRequest
	KindNetworkFailure
	KindRetriesExhausted
)

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrCancelled          = errors.New("request cancelled")
	ErrTimedOut           = errors.New("request timed out")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNetworkFailure     = errors.New("network failure")
	ErrRetriesExhausted   = errors.New("max retries exceeded")
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindTimedOut:
		return "timed_out"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindInvalidRequest:
		return "invalid_request"
	case KindNetworkFailure:
		return "network_failure"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindCancelled:
		return ErrCancelled
	case KindTimedOut:
		return ErrTimedOut
	case KindServiceUnavailable:
		return ErrServiceUnavailable
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindNetworkFailure:
		return ErrNetworkFailure
	case KindRetriesExhausted:
		return ErrRetriesExhausted
	}
	return nil
}

// Error is the typed failure returned by Orchestrator.Send.
type Error struct {
	Kind     Kind
	Attempts int    // network attempts issued before giving up
	Message  string // message reported by the server, if any
	Err      error  // underlying cause
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	switch {
	case e.Message != "":
		msg += ": " + e.Message
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
