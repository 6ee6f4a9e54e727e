package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

func remote(cause error) error {
	return &graphapi.RemoteError{Operation: "get_node", Cause: cause}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "local error", err: errors.New("bad flag"), want: false},
		{name: "transport failure", err: remote(io.ErrUnexpectedEOF), want: true},
		{name: "not found", err: remote(fmt.Errorf("%w: node 9", graphapi.ErrNotFound)), want: false},
		{name: "duplicate edge", err: remote(graphapi.ErrDuplicateEdge), want: false},
		{name: "cycle", err: remote(graphapi.ErrCycle), want: false},
		{name: "validation", err: remote(&model.ValidationError{NodeType: model.NodeTopic, Field: "task_status", Reason: "x"}), want: false},
		{name: "cancelled", err: remote(context.Canceled), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func withFastRetries(t *testing.T, attempts int) {
	t.Helper()
	prevAttempts, prevDelay, prevLogger := retryAttempts, retryDelay, logger
	retryAttempts, retryDelay = attempts, time.Millisecond
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { retryAttempts, retryDelay, logger = prevAttempts, prevDelay, prevLogger })
}

func TestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	withFastRetries(t, 2)

	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return remote(io.ErrUnexpectedEOF)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	withFastRetries(t, 1)

	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return remote(io.ErrUnexpectedEOF)
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWithRetry_FinalAnswerNotRepeated(t *testing.T) {
	withFastRetries(t, 3)

	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return remote(graphapi.ErrNotFound)
	})
	if !errors.Is(err, graphapi.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	withFastRetries(t, 5)
	retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		cancel()
		return remote(io.ErrUnexpectedEOF)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_ZeroAttemptsCallsOnce(t *testing.T) {
	withFastRetries(t, 0)

	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return remote(io.ErrUnexpectedEOF)
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
