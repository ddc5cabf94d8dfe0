package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
)

// Retry redelivers an event to Next with capped exponential backoff. The
// write has already committed when notifiers run, so every attempt delays the
// caller; keep Attempts and Base small.
type Retry struct {
	Next       services.Notifier
	Attempts   int
	Base       time.Duration
	MaxBackoff time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRetry(next services.Notifier, attempts int, base, maxBackoff time.Duration) *Retry {
	return &Retry{
		Next:       next,
		Attempts:   attempts,
		Base:       base,
		MaxBackoff: maxBackoff,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
}

func (r *Retry) Notify(ctx context.Context, e events.ChangeEventV1) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = r.Next.Notify(ctx, e); err == nil || attempt >= r.Attempts {
			return err
		}
		t := time.NewTimer(backoff(attempt, r.Base, r.MaxBackoff) + r.jitter())
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// backoff is base * 2^(attempt-1), capped at maxBackoff.
func backoff(attempt int, base, maxBackoff time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d <= 0 || (maxBackoff > 0 && d > maxBackoff) {
		return maxBackoff
	}
	return d
}

// jitter is uniform in [0, Base/2].
func (r *Retry) jitter() time.Duration {
	half := r.Base / 2
	if half <= 0 || r.rnd == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.rnd.Int63n(int64(half) + 1))
}
