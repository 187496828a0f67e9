package cancel

import (
	"sync"
	"testing"
	"time"
)

func TestNewTokenNotCancelled(t *testing.T) {
	tok := New()
	if tok.IsCancelled() {
		t.Error("new token reports cancelled")
	}
	select {
	case <-tok.Done():
		t.Error("Done() closed on a fresh token")
	default:
	}
}

func TestCancelIdempotent(t *testing.T) {
	tok := New()
	tok.Cancel()
	tok.Cancel()
	if !tok.IsCancelled() {
		t.Error("IsCancelled() = false after Cancel()")
	}
}

func TestCancelFromManyGoroutines(t *testing.T) {
	tok := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after concurrent Cancel()")
	}
}
