package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

var (
	retryAttempts = 2
	retryDelay    = 250 * time.Millisecond
)

func init() {
	rootCmd.PersistentFlags().IntVar(&retryAttempts, "retries", retryAttempts, "Extra attempts for a remote call that failed transiently")
}

// withRetry runs fn, retrying transient remote failures up to
// retryAttempts more times with exponential backoff from retryDelay.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryDelay
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retryAttempts, 0))), ctx),
		func(err error, wait time.Duration) {
			attempt++
			logger.Debug("retrying remote call", "attempt", attempt, "wait", wait, "err", err)
		})
}

// retryable reports whether err is a remote failure worth repeating.
// Answers from the authority about the data itself are final.
func retryable(err error) bool {
	var re *graphapi.RemoteError
	if !errors.As(err, &re) {
		return false
	}
	switch {
	case graphapi.IsBenign(err),
		errors.Is(err, graphapi.ErrCycle),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrSchema),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
