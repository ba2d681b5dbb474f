package request

import (
	"context"
	"testing"
	"time"
)

func TestProviderBackoff_ExponentialDelay(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		baseDelay time.Duration
		maxDelay  time.Duration
		wantMinMs int64
		wantMaxMs int64
	}{
		{"First failure", 1, 1 * time.Second, 60 * time.Second, 950, 1200},
		{"Second failure", 2, 1 * time.Second, 60 * time.Second, 1950, 2400},
		{"Third failure", 3, 1 * time.Second, 60 * time.Second, 3950, 4800},
		{"Max cap hit", 10, 1 * time.Second, 60 * time.Second, 59950, 66000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewProviderBackoff(tt.baseDelay, tt.maxDelay)

			for i := 0; i < tt.failures; i++ {
				b.RecordFailure("test-provider")
			}

			fc, nextAllowed := b.GetState("test-provider")
			if fc != tt.failures {
				t.Errorf("failureCount = %d, want %d", fc, tt.failures)
			}

			delayMs := time.Until(nextAllowed).Milliseconds()
			if delayMs < tt.wantMinMs || delayMs > tt.wantMaxMs {
				t.Errorf("delay = %dms, want between %dms and %dms", delayMs, tt.wantMinMs, tt.wantMaxMs)
			}
		})
	}
}

func TestProviderBackoff_GradualRecovery(t *testing.T) {
	b := NewProviderBackoff(1*time.Second, 60*time.Second)

	b.RecordFailure("provider")
	b.RecordFailure("provider")
	b.RecordFailure("provider")

	fc, _ := b.GetState("provider")
	if fc != 3 {
		t.Errorf("after 3 failures, count = %d, want 3", fc)
	}

	b.RecordSuccess("provider")
	fc, _ = b.GetState("provider")
	if fc != 2 {
		t.Errorf("after 1 success, count = %d, want 2", fc)
	}

	b.RecordSuccess("provider")
	b.RecordSuccess("provider")
	fc, next := b.GetState("provider")
	if fc != 0 || !next.IsZero() {
		t.Errorf("after full recovery, count = %d next = %v, want 0 and zero time", fc, next)
	}
}

func TestProviderBackoff_IsolatedProviders(t *testing.T) {
	b := NewProviderBackoff(1*time.Second, 60*time.Second)

	b.RecordFailure("pexels")
	b.RecordFailure("pexels")

	fc1, _ := b.GetState("pexels")
	fc2, _ := b.GetState("pixabay")

	if fc1 != 2 {
		t.Errorf("pexels failures = %d, want 2", fc1)
	}
	if fc2 != 0 {
		t.Errorf("pixabay failures = %d, want 0 (isolated)", fc2)
	}
}

func TestProviderBackoff_WaitHonorsContext(t *testing.T) {
	b := NewProviderBackoff(10*time.Second, 60*time.Second)
	b.RecordFailure("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := b.Wait(ctx, "slow"); err == nil {
		t.Error("expected context error while backing off")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return on context cancellation")
	}

	if err := b.Wait(context.Background(), "fresh"); err != nil {
		t.Errorf("unknown provider must not wait: %v", err)
	}
}

func TestProviderBackoff_Defer(t *testing.T) {
	b := NewProviderBackoff(100*time.Millisecond, 30*time.Second)

	b.Defer("pexels", 0)
	if _, next := b.GetState("pexels"); !next.IsZero() {
		t.Errorf("zero defer must not create state, next = %v", next)
	}

	b.Defer("pexels", 5*time.Second)
	_, next := b.GetState("pexels")
	if d := time.Until(next); d < 4*time.Second || d > 5*time.Second {
		t.Errorf("next allowed in %v, want about 5s", d)
	}

	// A shorter hint never pulls the deadline in.
	b.Defer("pexels", time.Second)
	if _, got := b.GetState("pexels"); !got.Equal(next) {
		t.Errorf("next allowed moved from %v to %v", next, got)
	}

	b.Defer("pixabay", time.Hour)
	_, capped := b.GetState("pixabay")
	if d := time.Until(capped); d > 30*time.Second {
		t.Errorf("defer not capped at max delay: %v", d)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{" 2 ", 2 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.in); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
