package correlator

import (
	"errors"
	"testing"
	"time"
)

func instantPolicy(maxAttempts int) (RetryPolicy, *[]time.Duration) {
	var sleeps []time.Duration
	p := RetryPolicy{
		MaxAttempts: maxAttempts,
		Interval:    100 * time.Millisecond,
		Sleep:       func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return p, &sleeps
}

func TestRetryPolicyImmediateSuccess(t *testing.T) {
	p, sleeps := instantPolicy(10)
	done, attempts, err := p.Wait(func() (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !done || attempts != 1 {
		t.Errorf("done=%v attempts=%d, want true, 1", done, attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times on immediate success", len(*sleeps))
	}
}

func TestRetryPolicyEventualSuccess(t *testing.T) {
	p, sleeps := instantPolicy(10)
	calls := 0
	done, attempts, err := p.Wait(func() (bool, error) {
		calls++
		return calls == 4, nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !done || attempts != 4 {
		t.Errorf("done=%v attempts=%d, want true, 4", done, attempts)
	}
	if len(*sleeps) != 3 {
		t.Errorf("slept %d times, want 3", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != p.Interval {
			t.Errorf("slept %v, want %v", d, p.Interval)
		}
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	p, sleeps := instantPolicy(10)
	done, attempts, err := p.Wait(func() (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done || attempts != 10 {
		t.Errorf("done=%v attempts=%d, want false, 10", done, attempts)
	}
	// No sleep after the final attempt.
	if len(*sleeps) != 9 {
		t.Errorf("slept %d times, want 9", len(*sleeps))
	}
}

func TestRetryPolicyErrorStops(t *testing.T) {
	p, _ := instantPolicy(10)
	boom := errors.New("boom")
	calls := 0
	done, attempts, err := p.Wait(func() (bool, error) {
		calls++
		if calls == 2 {
			return false, boom
		}
		return false, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if done || attempts != 2 {
		t.Errorf("done=%v attempts=%d, want false, 2", done, attempts)
	}
}
