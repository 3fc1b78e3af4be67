package correlator

import "time"

// RetryPolicy bounds the wait for a linked record that a concurrent worker
// has not committed yet. Each miss sleeps for Interval; statements
// auto-commit, so a sibling handler's progress becomes visible between
// attempts. The policy is not cancellable: it self-terminates after
// MaxAttempts and the caller degrades gracefully.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	// Sleep is injectable so tests run instantly. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetryPolicy matches the correlation wait the switch integration
// was tuned for: up to 10 attempts, 100ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Interval: 100 * time.Millisecond}
}

// Wait calls fn until it reports done or the attempt budget runs out.
// It returns whether fn succeeded and how many attempts were made.
func (p RetryPolicy) Wait(fn func() (bool, error)) (bool, int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	attempts := 0
	for i := 0; i < p.MaxAttempts; i++ {
		attempts++
		done, err := fn()
		if err != nil {
			return false, attempts, err
		}
		if done {
			return true, attempts, nil
		}
		if i < p.MaxAttempts-1 {
			sleep(p.Interval)
		}
	}
	return false, attempts, nil
}
