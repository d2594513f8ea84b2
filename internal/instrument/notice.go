package instrument

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Notice is a user-visible, non-blocking hardware notification.
type Notice struct {
	Instrument string
	Message    string
	At         time.Time
}

// Throttle limits how often notices for one instrument get through, so a
// flapping device does not flood the consumer.
type Throttle struct {
	mu       sync.Mutex
	every    time.Duration
	burst    int
	limiters map[string]*rate.Limiter
}

// NewThrottle lets through at most burst notices per instrument, refilling
// one every interval.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a notice for instrument may be sent now.
func (t *Throttle) Allow(instrument string) bool {
	t.mu.Lock()
	l, ok := t.limiters[instrument]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.limiters[instrument] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
