package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gelozr/signin/log"
)

type Handler[T any] func(context.Context, T) error

// Bus fans a single event type out to its subscribers. Publish runs the
// synchronous handlers in subscription order on the caller's goroutine.
type Bus[T any] struct {
	mu           sync.RWMutex
	nextID       int
	handlers     []subscription[T]
	asyncHandler func(Handler[T]) Handler[T]
	logger       log.Logger
}

type subscription[T any] struct {
	id     int
	handle Handler[T]
}

func NewBus[T any](logger log.Logger) *Bus[T] {
	if logger == nil {
		logger = log.Nop()
	}

	b := &Bus[T]{logger: logger}
	b.asyncHandler = b.goHandler
	return b
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, handle: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus[T]) SubscribeAsync(h Handler[T]) (unsubscribe func()) {
	b.mu.RLock()
	ah := b.asyncHandler
	b.mu.RUnlock()

	return b.Subscribe(ah(h))
}

func (b *Bus[T]) SetAsyncHandler(ah func(Handler[T]) Handler[T]) error {
	if ah == nil {
		return errors.New("nil async handler")
	}

	b.mu.Lock()
	b.asyncHandler = ah
	b.mu.Unlock()

	return nil
}

func (b *Bus[T]) Publish(ctx context.Context, evt T) error {
	b.mu.RLock()
	handlers := append([]subscription[T]{}, b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range handlers {
		if err := s.handle(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus[T]) goHandler(h Handler[T]) Handler[T] {
	return func(ctx context.Context, evt T) error {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.ErrorContext(ctx, "event handler panicked", "event", fmt.Sprintf("%T", evt), "panic", r)
				}
			}()
			if err := h(ctx, evt); err != nil {
				b.logger.WarnContext(ctx, "event handler failed", "event", fmt.Sprintf("%T", evt), "error", err)
			}
		}()
		return nil
	}
}
