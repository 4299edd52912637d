// Package broadcast delivers service state signals to listeners outside the
// dispatcher: in-process subscribers and, optionally, a Redis channel.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/iddaa-lens/redpacket/pkg/models"
)

// ErrClosed is returned when broadcasting on a closed hub
var ErrClosed = errors.New("broadcast hub is closed")

// Broadcaster emits a signal to every interested listener
type Broadcaster interface {
	Broadcast(ctx context.Context, signal models.Signal) error
}

// Hub fans signals out to in-process subscribers. Slow subscribers miss
// signals rather than block the sender.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan models.Signal]struct{}
	closed bool
}

// NewHub creates a hub whose subscriber channels hold buffer signals
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 8
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[chan models.Signal]struct{}),
	}
}

// Subscribe registers a listener. Call the returned func to unsubscribe.
func (h *Hub) Subscribe() (func(), <-chan models.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.Signal, h.buffer)
	if h.closed {
		close(ch)
		return func() {}, ch
	}
	h.subs[ch] = struct{}{}

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; !ok {
			return
		}
		delete(h.subs, ch)
		close(ch)
	}
	return unsub, ch
}

func (h *Hub) Broadcast(_ context.Context, signal models.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	for ch := range h.subs {
		select {
		case ch <- signal:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// Multi broadcasts to each non-nil broadcaster and joins their errors
func Multi(broadcasters ...Broadcaster) Broadcaster {
	list := make(multi, 0, len(broadcasters))
	for _, b := range broadcasters {
		if b != nil {
			list = append(list, b)
		}
	}
	return list
}

type multi []Broadcaster

func (m multi) Broadcast(ctx context.Context, signal models.Signal) error {
	var errs []error
	for _, b := range m {
		if err := b.Broadcast(ctx, signal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Broadcaster
type Func func(ctx context.Context, signal models.Signal) error

func (f Func) Broadcast(ctx context.Context, signal models.Signal) error {
	return f(ctx, signal)
}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Broadcaster = multi(nil)
	_ Broadcaster = Func(nil)
)
