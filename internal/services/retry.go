package services

import "time"

// RetryPolicy computes the delay before a retry attempt. It is a pure
// decision function: same attempt number, same answer.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the backoff preceding retry attempt retryCount (1-based).
// The schedule doubles per attempt and is capped at Max, so it is
// non-decreasing in retryCount.
func (p RetryPolicy) Next(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.Base
	for i := 1; i < retryCount; i++ {
		if d >= p.Max/2 {
			return p.Max
		}
		d *= 2
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
