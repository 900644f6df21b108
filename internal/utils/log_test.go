package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "hello world",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "hello",
			limit:  10,
			expect: "hello",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "Tell me about your last project",
			limit:  12,
			expect: "Tell me abou...",
		},
		{
			name:   "counts runes not bytes",
			input:  "Привет, кандидат",
			limit:  6,
			expect: "Привет...",
		},
		{
			name:   "trims surrounding whitespace",
			input:  "  spaced  ",
			limit:  5,
			expect: "space...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	limit := time.Second

	tests := []struct {
		attempt int
		expect  time.Duration
	}{
		{attempt: 0, expect: 100 * time.Millisecond},
		{attempt: 1, expect: 200 * time.Millisecond},
		{attempt: 3, expect: 800 * time.Millisecond},
		{attempt: 4, expect: time.Second},
		{attempt: 10, expect: time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, limit); got != tt.expect {
			t.Fatalf("attempt %d: expected %s, got %s", tt.attempt, tt.expect, got)
		}
	}

	if got := Backoff(2, 0, limit); got != 0 {
		t.Fatalf("expected zero backoff for zero base, got %s", got)
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero duration, got %v", err)
	}
}
