package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedClient struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (c *scriptedClient) Analyze(ctx context.Context, req Request) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return Result{}, errors.New("upstream unavailable")
	}
	return Result{Content: "ok", TokensUsed: 42}, nil
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	client := &scriptedClient{failures: 2}
	inv := NewInvoker(client, 2, time.Millisecond)

	res, err := inv.Invoke(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "ok" {
		t.Fatalf("content = %q, want ok", res.Content)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if got := inv.Retries(); got != 2 {
		t.Fatalf("retries = %d, want 2", got)
	}
}

func TestInvokeExhaustsRetries(t *testing.T) {
	client := &scriptedClient{failures: 10}
	inv := NewInvoker(client, 2, time.Millisecond)

	_, err := inv.Invoke(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want 3", client.calls)
	}
}

func TestInvokeStopsOnCancel(t *testing.T) {
	client := &scriptedClient{failures: 10}
	inv := NewInvoker(client, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(ctx, Request{})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after cancel")
	}
}

func TestInvokeNoRetryOnSuccess(t *testing.T) {
	client := &scriptedClient{}
	inv := NewInvoker(client, 3, time.Millisecond)

	res, err := inv.Invoke(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Attempts != 1 || client.calls != 1 {
		t.Fatalf("attempts=%d calls=%d, want 1/1", res.Attempts, client.calls)
	}
}
