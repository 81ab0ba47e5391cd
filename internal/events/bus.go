// Package events is the in-process publish/subscribe bus shared by the dispatch modules.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type Handler func(ctx context.Context, e Event) error

// Publisher is what services depend on to emit events.
type Publisher interface {
	Publish(ctx context.Context, name string, data map[string]any)
}

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans an event out to every handler subscribed to its name plus the
// catch-all handlers. Handlers run concurrently and Publish waits for them.
// A failing or panicking handler is logged and never affects the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	all      []subscription
	nextID   uint64
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers h for events named name and returns its unsubscribe func.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, fn: h})
	return func() { b.remove(name, id) }
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, fn: h})
	return func() { b.remove("", id) }
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.all
	if name != "" {
		list = b.handlers[name]
	}
	out := list[:0]
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	if name == "" {
		b.all = out
		return
	}
	if len(out) == 0 {
		delete(b.handlers, name)
		return
	}
	b.handlers[name] = out
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]subscription)
	b.all = nil
}

func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *Bus) Publish(ctx context.Context, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	b.Dispatch(ctx, Event{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// Dispatch delivers an already built event.
func (b *Bus) Dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[e.Name])+len(b.all))
	subs = append(subs, b.handlers[e.Name]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			b.safeExecute(ctx, s, e)
		}(s)
	}
	wg.Wait()
}

func (b *Bus) safeExecute(ctx context.Context, s subscription, e Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", e.Name),
				slog.Uint64("handler", s.id),
				slog.String("error", fmt.Sprint(p)),
			)
		}
	}()
	if err := s.fn(ctx, e); err != nil {
		b.logger.Error("event handler failed",
			slog.String("event", e.Name),
			slog.Uint64("handler", s.id),
			slog.String("error", err.Error()),
		)
	}
}
