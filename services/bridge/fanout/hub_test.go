package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer a.Close()
	defer b.Close()

	hub.Broadcast([]byte("E1"))

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		got, err := sub.Next(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if string(got) != "E1" {
			t.Fatalf("%s: got %q, want E1", name, got)
		}
	}
}

func TestSubscriberSeesArrivalOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	for i := 1; i <= 100; i++ {
		hub.Broadcast([]byte(fmt.Sprintf("E%d", i)))
	}

	for i := 1; i <= 100; i++ {
		got, err := sub.Next(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
		if want := fmt.Sprintf("E%d", i); string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if _, err := sub.Next(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrIdle) {
		t.Fatalf("expected ErrIdle after draining, got %v", err)
	}
}

func TestLateSubscriberDoesNotReplay(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	defer a.Close()

	hub.Broadcast([]byte("E1"))
	b := hub.Subscribe()
	defer b.Close()
	hub.Broadcast([]byte("E2"))

	got, err := b.Next(context.Background(), time.Second)
	if err != nil || string(got) != "E2" {
		t.Fatalf("late subscriber got %q %v, want E2", got, err)
	}
	if a.Pending() != 2 {
		t.Fatalf("early subscriber should hold both events, has %d", a.Pending())
	}
}

func TestStalledSubscriberDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub()
	stalled := hub.Subscribe()
	defer stalled.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			hub.Broadcast([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a stalled subscriber")
	}
	if stalled.Pending() != 10000 {
		t.Fatalf("expected 10000 queued payloads, got %d", stalled.Pending())
	}
}

func TestNextWakesOnBroadcast(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Broadcast([]byte("late"))
	}()

	got, err := sub.Next(context.Background(), 0)
	if err != nil || string(got) != "late" {
		t.Fatalf("got %q %v, want late", got, err)
	}
}

func TestNextHonoursContext(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Next(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCloseDeregisters(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	hub.Broadcast([]byte("E1"))

	if hub.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Len())
	}
	sub.Close()
	sub.Close()

	if hub.Len() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", hub.Len())
	}
	if _, err := sub.Next(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	hub.Broadcast([]byte("E2"))
	if sub.Pending() != 0 {
		t.Fatalf("closed subscription must not accumulate payloads")
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not return after Close")
	}
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	hub := NewHub()
	const consumers, events = 8, 500

	var wg sync.WaitGroup
	counts := make([]int, consumers)
	subs := make([]*Subscription, consumers)
	for i := range subs {
		subs[i] = hub.Subscribe()
	}
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			defer sub.Close()
			for counts[i] < events {
				if _, err := sub.Next(context.Background(), time.Second); err != nil {
					return
				}
				counts[i]++
			}
		}(i, sub)
	}

	for i := 0; i < events; i++ {
		hub.Broadcast([]byte("x"))
	}
	wg.Wait()

	for i, n := range counts {
		if n != events {
			t.Fatalf("consumer %d received %d of %d", i, n, events)
		}
	}
}
