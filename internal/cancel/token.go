package cancel

import "sync"

// Token is a cooperative cancellation handle shared between whoever started a
// send and the attempt loop running it. The zero value is not usable; use New.
type Token struct {
	once sync.Once
	done chan struct{}
}

// New creates an uncancelled token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Safe to call repeatedly and from any goroutine.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
