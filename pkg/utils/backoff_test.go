package utils

import (
	"sync"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, false)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},  // capped
		{10, time.Second}, // capped
	}

	for _, tt := range tests {
		if delay := backoff.NextDelay(tt.attempt); delay != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	backoff := NewExponentialBackoff(time.Millisecond, 0, 0, false)
	if backoff.Multiplier != 2.0 {
		t.Errorf("expected default multiplier 2.0, got %f", backoff.Multiplier)
	}
	if backoff.MaxDelay != 30*time.Second {
		t.Errorf("expected default max delay 30s, got %v", backoff.MaxDelay)
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, true)

	for i := 0; i < 20; i++ {
		delay := backoff.NextDelay(1)
		if delay < 100*time.Millisecond || delay > 300*time.Millisecond {
			t.Errorf("jittered delay out of range: %v", delay)
		}
	}
}

func TestExponentialBackoffJitterConcurrent(t *testing.T) {
	backoff := &ExponentialBackoff{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if delay := backoff.NextDelay(0); delay < 5*time.Millisecond || delay > 15*time.Millisecond {
					t.Errorf("jittered delay out of range: %v", delay)
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[backoff.NextDelay(2)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected jitter to vary the delay, got %v", seen)
	}
}
