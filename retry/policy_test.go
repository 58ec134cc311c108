package retry

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   Outcome
	}{
		{200, Success},
		{201, Success},
		{204, Success},
		{299, Success},

		// Transport errors.
		{0, RetryableFailure},

		// Retryable 4xx.
		{408, RetryableFailure},
		{429, RetryableFailure},

		// Permanent 4xx.
		{400, PermanentFailure},
		{401, PermanentFailure},
		{404, PermanentFailure},
		{410, PermanentFailure},
		{422, PermanentFailure},

		// Server errors.
		{500, RetryableFailure},
		{502, RetryableFailure},
		{503, RetryableFailure},

		// Oddballs outside the usual ranges retry.
		{100, RetryableFailure},
		{301, RetryableFailure},
	}

	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNextAttemptDelayExponential(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     time.Hour,
		MaxAttempts:  10,
		Jitter:       0, // deterministic
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 1024 * time.Second},
	}

	for _, tt := range tests {
		if got := p.NextAttemptDelay(tt.attempts); got != tt.want {
			t.Errorf("NextAttemptDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestNextAttemptDelayCap(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		MaxAttempts:  20,
		Jitter:       0,
	}

	for attempts := 6; attempts < 20; attempts++ {
		if got := p.NextAttemptDelay(attempts); got != time.Minute {
			t.Errorf("NextAttemptDelay(%d) = %v, want cap %v", attempts, got, time.Minute)
		}
	}
}

func TestNextAttemptDelayJitterBounds(t *testing.T) {
	p := Policy{
		InitialDelay: 10 * time.Second,
		MaxDelay:     time.Hour,
		MaxAttempts:  10,
		Jitter:       0.25,
	}

	// Injected rand pins jitter at the extremes.
	p.Rand = func() float64 { return 0 } // factor = 1 - 0.25
	if got, want := p.NextAttemptDelay(0), 7500*time.Millisecond; got != want {
		t.Errorf("low jitter: NextAttemptDelay(0) = %v, want %v", got, want)
	}

	p.Rand = func() float64 { return 0.5 } // factor = 1
	if got, want := p.NextAttemptDelay(0), 10*time.Second; got != want {
		t.Errorf("mid jitter: NextAttemptDelay(0) = %v, want %v", got, want)
	}

	p.Rand = func() float64 { return 0.999999 } // factor just under 1.25
	got := p.NextAttemptDelay(0)
	if got < 10*time.Second || got > 12500*time.Millisecond {
		t.Errorf("high jitter: NextAttemptDelay(0) = %v, want within (10s, 12.5s]", got)
	}
}

func TestIsRetryable(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		st   State
		want bool
	}{
		{"fresh pending", State{Attempts: 1, NextAttemptAt: &past}, true},
		{"delivered", State{Attempts: 1, Delivered: true}, false},
		{"failed", State{Attempts: 1, Failed: true}, false},
		{"exhausted", State{Attempts: DefaultMaxAttempts}, false},
		{"not yet due", State{Attempts: 1, NextAttemptAt: &future}, false},
		{"no schedule", State{Attempts: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsRetryable(tt.st, now); got != tt.want {
				t.Errorf("IsRetryable(%+v) = %v, want %v", tt.st, got, tt.want)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.InitialDelay != DefaultInitialDelay {
		t.Errorf("InitialDelay = %v, want %v", p.InitialDelay, DefaultInitialDelay)
	}
	if p.MaxDelay != DefaultMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", p.MaxDelay, DefaultMaxDelay)
	}
	if p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, DefaultMaxAttempts)
	}
	if p.Jitter != DefaultJitter {
		t.Errorf("Jitter = %v, want %v", p.Jitter, DefaultJitter)
	}
}
