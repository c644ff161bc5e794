package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

func TestRevealEmitsGrowingPrefixes(t *testing.T) {
	var frames []string
	var last bool
	err := Reveal(context.Background(), "你好世界!", domain.Typing{Step: 2, Interval: 1}, func(prefix string, done bool) error {
		frames = append(frames, prefix)
		last = done
		return nil
	})
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	want := []string{"你好", "你好世界", "你好世界!"}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
	if !last {
		t.Fatal("expected final frame to be marked done")
	}
}

func TestRevealDisabledEmitsOnce(t *testing.T) {
	calls := 0
	err := Reveal(context.Background(), "hello", domain.Typing{}, func(prefix string, done bool) error {
		calls++
		if prefix != "hello" || !done {
			t.Fatalf("unexpected frame %q done=%v", prefix, done)
		}
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected one frame, got %d (err=%v)", calls, err)
	}
}

func TestRevealStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Reveal(ctx, "abcdefgh", domain.Typing{Step: 1, Interval: 1000}, func(string, bool) error {
		calls++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one frame before cancel, got %d", calls)
	}
}

func TestRevealPropagatesEmitError(t *testing.T) {
	boom := errors.New("closed")
	err := Reveal(context.Background(), "abcdef", domain.Typing{Step: 1, Interval: 1}, func(string, bool) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}
}
