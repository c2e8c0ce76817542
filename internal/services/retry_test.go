package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNext(t *testing.T) {
	p := RetryPolicy{Base: 30 * time.Second, Max: 30 * time.Minute}

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first retry", 1, 30 * time.Second},
		{"second doubles", 2, time.Minute},
		{"third doubles again", 3, 2 * time.Minute},
		{"capped", 10, 30 * time.Minute},
		{"way past cap", 100, 30 * time.Minute},
		{"zero treated as first", 0, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Next(tt.retryCount))
		})
	}
}

func TestRetryPolicyMonotone(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Second, Max: 10 * time.Minute}
	prev := time.Duration(0)
	for n := 1; n <= 20; n++ {
		d := p.Next(n)
		assert.GreaterOrEqual(t, d, prev, "backoff must not decrease at attempt %d", n)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}
