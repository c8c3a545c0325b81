package dispatch

import (
	"math/rand"
	"time"
)

// backoffDelay computes the exponential delay before the given attempt
// (1-based), with up to 20% jitter, capped.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap <= 0 {
		cap = 5 * time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	d += jitter
	if d > cap {
		d = cap
	}
	return d
}
