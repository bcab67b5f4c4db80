package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllow_WithinLimit(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if l.Allow() {
		t.Error("fourth request should be refused")
	}
}

func TestAllow_TokensRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(2, time.Minute)

	if !l.allowAt(now) || !l.allowAt(now) {
		t.Fatal("first two requests should be admitted")
	}
	if l.allowAt(now) {
		t.Fatal("limit reached, should refuse")
	}

	if !l.allowAt(now.Add(time.Minute)) {
		t.Error("tokens must refill over the window")
	}
}

func TestWait_Unlimited(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("unlimited limiter must never block: %v", err)
		}
	}
}

func TestWait_HonorsContextCancel(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("wait should return promptly on cancellation, took %s", elapsed)
	}
}
