package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{
		DefaultRPS:   10, // 10 requests per second = 100ms interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://test.com/a"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
	if l.Hosts() != 2 {
		t.Errorf("expected 2 host buckets, got %d", l.Hosts())
	}
}

func TestLimiter_HostOverrideAndCancel(t *testing.T) {
	l := New(Config{
		DefaultRPS:   0, // unlimited
		DefaultBurst: 1,
		HostRPS:      map[string]float64{"Slow.example": 0.001},
	})

	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background(), "https://fast.example/"); err != nil {
			t.Fatalf("unlimited host should never block: %v", err)
		}
	}

	if err := l.Wait(context.Background(), "https://slow.example/"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.example/"); err == nil {
		t.Fatal("expected throttled host wait to fail once the context expires")
	}
}
