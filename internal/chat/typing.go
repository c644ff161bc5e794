package chat

import (
	"context"
	"time"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// Reveal calls emit with growing prefixes of text, speed.Step runes at a time
// every speed.Interval milliseconds. The last call always carries the full
// text. Disabled typing emits the full text once.
func Reveal(ctx context.Context, text string, speed domain.Typing, emit func(prefix string, done bool) error) error {
	runes := []rune(text)
	if !speed.Enabled() || len(runes) <= speed.Step {
		return emit(text, true)
	}

	ticker := time.NewTicker(time.Duration(speed.Interval) * time.Millisecond)
	defer ticker.Stop()

	for n := speed.Step; ; n += speed.Step {
		if n >= len(runes) {
			return emit(text, true)
		}
		if err := emit(string(runes[:n]), false); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
