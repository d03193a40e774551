// Package fanout rebroadcasts every payload received from the broker to each
// connected stream client through a private, unbounded queue per client.
package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIdle is returned by Next when nothing arrived within the wait.
	ErrIdle = errors.New("fanout: no payload within wait")
	// ErrClosed is returned by Next once the subscription is closed.
	ErrClosed = errors.New("fanout: subscription closed")
)

// Hub is the registry of live subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a new queue. It receives only payloads broadcast after
// this call returns.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:    uuid.New(),
		hub:   h,
		ready: make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Broadcast appends payload to every registered queue. It never waits on a
// consumer. The payload is shared between queues and must not be modified
// afterwards.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		sub.push(payload)
	}
}

// Len returns the number of registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is one consumer's ordered queue. Any goroutine may push; only
// the owner should call Next.
type Subscription struct {
	id  uuid.UUID
	hub *Hub

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	ready  chan struct{}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Pending returns the number of queued payloads.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until a payload is available, wait elapses (ErrIdle), ctx is
// done or the subscription is closed. A non-positive wait never times out.
func (s *Subscription) Next(ctx context.Context, wait time.Duration) ([]byte, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-s.ready:
		case <-timeout:
			return nil, ErrIdle
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close deregisters the subscription and drops its backlog. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.hub.remove(s.id)
	s.signal()
}

func (s *Subscription) push(payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
