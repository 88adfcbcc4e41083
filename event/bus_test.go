package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gelozr/signin/event"
)

type ping struct {
	n int
}

func TestBus_PublishOrder(t *testing.T) {
	b := event.NewBus[ping](nil)

	var got []int
	b.Subscribe(func(ctx context.Context, p ping) error {
		got = append(got, p.n)
		return nil
	})
	b.Subscribe(func(ctx context.Context, p ping) error {
		got = append(got, p.n*10)
		return nil
	})

	if err := b.Publish(context.Background(), ping{n: 2}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(got) != 2 || got[0] != 2 || got[1] != 20 {
		t.Errorf("handlers saw %v, want [2 20]", got)
	}
}

func TestBus_PublishJoinsErrors(t *testing.T) {
	b := event.NewBus[ping](nil)
	errA := errors.New("a")
	errB := errors.New("b")

	b.Subscribe(func(context.Context, ping) error { return errA })
	b.Subscribe(func(context.Context, ping) error { return nil })
	b.Subscribe(func(context.Context, ping) error { return errB })

	err := b.Publish(context.Background(), ping{})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Publish() error = %v, want both handler errors", err)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := event.NewBus[ping](nil)

	calls := 0
	unsub := b.Subscribe(func(context.Context, ping) error {
		calls++
		return nil
	})
	b.Subscribe(func(context.Context, ping) error { return nil })

	_ = b.Publish(context.Background(), ping{})
	unsub()
	unsub()
	_ = b.Publish(context.Background(), ping{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

func TestBus_SubscribeAsync(t *testing.T) {
	b := event.NewBus[ping](nil)

	var wg sync.WaitGroup
	wg.Add(1)
	b.SubscribeAsync(func(ctx context.Context, p ping) error {
		defer wg.Done()
		panic("handler panics are recovered")
	})

	if err := b.Publish(context.Background(), ping{}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler did not run")
	}
}

func TestBus_SetAsyncHandler(t *testing.T) {
	b := event.NewBus[ping](nil)

	if err := b.SetAsyncHandler(nil); err == nil {
		t.Error("SetAsyncHandler(nil) expected error")
	}

	// Run "async" handlers inline so the test is deterministic.
	if err := b.SetAsyncHandler(func(h event.Handler[ping]) event.Handler[ping] { return h }); err != nil {
		t.Fatalf("SetAsyncHandler() error = %v", err)
	}

	seen := false
	b.SubscribeAsync(func(context.Context, ping) error {
		seen = true
		return nil
	})
	_ = b.Publish(context.Background(), ping{})

	if !seen {
		t.Error("inline async handler not called")
	}
}
