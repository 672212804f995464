// Package backoff provides the exponential delay policy shared by the
// request gateway's retry loop and the realtime channel's reconnect loop.
package backoff

import "time"

// Policy computes exponential backoff delays. The zero value is not usable;
// Base must be positive.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// MaxAttempts bounds how many attempts Exhausted will allow.
	// Zero means unbounded.
	MaxAttempts int
}

// Delay returns the delay to wait before retry number attempt (0-based):
// Base, 2*Base, 4*Base, ... capped at MaxDelay when set.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt (1-based count of attempts already made)
// has reached the policy's attempt bound.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
