package delivery

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: base doubled per attempt up to cap, plus
// uniform jitter proportional to the computed delay so many events
// recovering at once do not retry in lockstep.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of the delay added as random jitter, e.g. 0.2
}

// Delay returns the wait before the given attempt number (1-based: the
// delay scheduled after attempt n failed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
