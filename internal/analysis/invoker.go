package analysis

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Invoker wraps a Client with bounded retry and exponential backoff. Safe for
// concurrent use; Retries is the running total across all calls.
type Invoker struct {
	client      Client
	maxRetries  int
	backoffBase time.Duration

	retries atomic.Int64
}

func NewInvoker(client Client, maxRetries int, backoffBase time.Duration) *Invoker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Invoker{client: client, maxRetries: maxRetries, backoffBase: backoffBase}
}

// Retries reports the total retry count since construction.
func (inv *Invoker) Retries() int64 { return inv.retries.Load() }

// Invoke calls the client up to maxRetries+1 times, sleeping backoffBase *
// 2^attempt between attempts. The sleep aborts immediately when ctx is
// cancelled. Result.Attempts records how many calls were made.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= inv.maxRetries; attempt++ {
		if attempt > 0 {
			inv.retries.Add(1)
			delay := inv.backoffBase * time.Duration(1<<(attempt-1))
			log.Printf("analysis: attempt %d failed, retrying in %s: %v", attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return Result{Attempts: attempt}, ctx.Err()
			case <-time.After(delay):
			}
		}
		res, err := inv.client.Analyze(ctx, req)
		if err == nil {
			res.Attempts = attempt + 1
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Result{Attempts: attempt + 1}, ctx.Err()
		}
	}
	return Result{Attempts: inv.maxRetries + 1}, fmt.Errorf("analysis failed after %d attempts: %w", inv.maxRetries+1, lastErr)
}
