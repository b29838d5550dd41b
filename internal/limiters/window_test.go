package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimitsAndExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewFixedWindow(rdb, "afp", WindowConfig{Max: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "alice@example.com"); err != nil {
			t.Fatalf("hit %d: unexpected error %v", i, err)
		}
	}
	if err := l.Allow(ctx, "alice@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if err := l.Allow(ctx, "bob@example.com"); err != nil {
		t.Fatalf("independent key limited: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.Allow(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestFixedWindowNilAndDisabled(t *testing.T) {
	var l *FixedWindow
	if err := l.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
	disabled := NewFixedWindow(nil, "x", WindowConfig{})
	if err := disabled.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("disabled limiter must allow: %v", err)
	}
}
