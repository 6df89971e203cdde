package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxThrottleKeys bounds the per-key limiter map before idle keys are swept.
const maxThrottleKeys = 10000

// keyedThrottle hands out one token bucket per key.
type keyedThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

func newKeyedThrottle(every time.Duration, burst int) *keyedThrottle {
	return &keyedThrottle{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		burst:    burst,
	}
}

// AllowAt reports whether key may proceed at t.
func (k *keyedThrottle) AllowAt(key string, t time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxThrottleKeys {
			k.sweep(t)
		}
		l = rate.NewLimiter(rate.Every(k.every), k.burst)
		k.limiters[key] = l
	}
	return l.AllowN(t, 1)
}

// sweep drops buckets that have refilled completely; they behave exactly
// like fresh ones.
func (k *keyedThrottle) sweep(t time.Time) {
	for key, l := range k.limiters {
		if l.TokensAt(t) >= float64(k.burst) {
			delete(k.limiters, key)
		}
	}
}
