package scheduler

import (
	"math/rand"
	"time"
)

// backoff returns the delay before retrying a workflow after its n-th
// consecutive failed run: exponential growth capped at max, with half the
// delay randomized so failing integrations do not fire in lockstep.
func backoff(base, max time.Duration, retries int) time.Duration {
	delay := base
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
