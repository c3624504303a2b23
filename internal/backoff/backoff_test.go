package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelayWithRand(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"zero attempt clamps to first", 0, 0, 100 * time.Millisecond},
		{"third attempt", 3, 0, 400 * time.Millisecond},
		{"jitter adds fraction of base", 2, 0.5, 250 * time.Millisecond},
		{"capped", 10, 0.9, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.DelayWithRand(tt.attempt, tt.random); got != tt.want {
				t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestPolicyEdgeCases(t *testing.T) {
	if got := (Policy{}).Delay(3); got != 0 {
		t.Errorf("zero policy delay = %v, want 0", got)
	}
	flat := Policy{Initial: 50 * time.Millisecond, Factor: 0.5}
	if got := flat.DelayWithRand(4, 0); got != 50*time.Millisecond {
		t.Errorf("factor below 1 delay = %v, want 50ms", got)
	}
	uncapped := Policy{Initial: time.Second, Factor: 2}
	if got := uncapped.DelayWithRand(7, 0); got != 64*time.Second {
		t.Errorf("uncapped delay = %v, want 64s", got)
	}
}

func TestExponential(t *testing.T) {
	p := Exponential(200 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		base := 200 * time.Millisecond << (attempt - 1)
		got := p.Delay(attempt)
		if got < base || got > base+base/10 {
			t.Errorf("attempt %d delay = %v, want within [%v, %v]", attempt, got, base, base+base/10)
		}
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep error = %v", err)
	}

	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("slept %v, want at least 20ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled sleep error = %v", err)
	}
	if err := Sleep(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled zero sleep error = %v", err)
	}
}

func TestPolicyWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Exponential(time.Hour).Wait(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}
