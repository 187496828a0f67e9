package backoff

import (
	"math"
	"time"
)

// DefaultBase is the wait before the first retry.
const DefaultBase = 1000 * time.Millisecond

// Policy maps a retry attempt number to the wait inserted before it.
type Policy struct {
	Base time.Duration
}

// Default returns the policy used between completion retries: 1s, 2s, 4s, ...
func Default() Policy {
	return Policy{Base: DefaultBase}
}

// DelayForAttempt returns Base * 2^(n-1) for n >= 1, and zero otherwise.
// The result saturates at the largest representable duration.
func (p Policy) DelayForAttempt(n int) time.Duration {
	if n < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}
