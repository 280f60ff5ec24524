package delivery

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle keeps one token bucket per destination.
type throttle struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newThrottle(perMinute, burst int) *throttle {
	if burst <= 0 {
		burst = perMinute
	}
	return &throttle{
		rate:        rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (t *throttle) allow(key string) bool {
	return t.limiter(key).Allow()
}

func (t *throttle) limiter(key string) *rate.Limiter {
	if limiter, ok := t.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(t.rate, t.burst)
	actual, _ := t.limiters.LoadOrStore(key, limiter)

	t.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, at most every five
// minutes. A full bucket behaves the same as a fresh one.
func (t *throttle) maybeCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCleanup) < 5*time.Minute {
		return
	}
	t.lastCleanup = time.Now()

	t.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(t.burst) {
			t.limiters.Delete(key)
		}
		return true
	})
}
