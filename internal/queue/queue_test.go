package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFIFOSingleProducer(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, fmt.Sprintf("job-%d", i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		id, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if want := fmt.Sprintf("job-%d", i); id != want {
			t.Fatalf("dequeue #%d = %s, want %s", i, id, want)
		}
	}
}

// TestConcurrentProducersConsumers checks N in / N out with no loss and no
// duplication.
func TestConcurrentProducersConsumers(t *testing.T) {
	const producers, perProducer, consumers = 4, 250, 3
	q := New(0)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				id, err := q.Dequeue(ctx)
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				mu.Lock()
				got = append(got, id)
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue(ctx, fmt.Sprintf("%d:%04d", p, i)); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(p)
	}
	pwg.Wait()
	q.Close()
	cwg.Wait()

	if len(got) != producers*perProducer {
		t.Fatalf("received %d ids, want %d", len(got), producers*perProducer)
	}
	seen := make(map[string]bool, len(got))
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate delivery of %s", id)
		}
		seen[id] = true
	}
}

// TestPerProducerOrderSingleConsumer verifies dequeue order respects each
// producer's submission order.
func TestPerProducerOrderSingleConsumer(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.Enqueue(ctx, fmt.Sprintf("%d:%03d", p, i))
			}
		}(p)
	}
	wg.Wait()

	last := map[byte]string{}
	for q.Len() > 0 {
		id, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if prev, ok := last[id[0]]; ok && prev > id {
			t.Fatalf("producer %c out of order: %s after %s", id[0], id, prev)
		}
		last[id[0]] = id
	}
}

func TestDuplicateIDsAreDeliveredTwice(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "same")
	_ = q.Enqueue(ctx, "same")
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		id, _ := q.Dequeue(ctx)
		result <- id
	}()

	select {
	case id := <-result:
		t.Fatalf("dequeue returned early with %q", id)
	case <-time.After(50 * time.Millisecond):
	}

	_ = q.Enqueue(ctx, "late")
	select {
	case id := <-result:
		if id != "late" {
			t.Fatalf("id = %q, want late", id)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueHonoursContext(t *testing.T) {
	q := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

// TestCloseDrains verifies queued ids stay deliverable after Close.
func TestCloseDrains(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "a")
	q.Close()

	if err := q.Enqueue(ctx, "b"); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close = %v, want ErrClosed", err)
	}
	if id, err := q.Dequeue(ctx); err != nil || id != "a" {
		t.Fatalf("dequeue = %q, %v; want a, nil", id, err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("dequeue on drained queue = %v, want ErrClosed", err)
	}
}

// TestBoundedEnqueueBlocks covers the backpressure variant.
func TestBoundedEnqueueBlocks(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "first"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(short, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("enqueue on full queue = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, "third") }()
	time.Sleep(20 * time.Millisecond)
	if id, _ := q.Dequeue(ctx); id != "first" {
		t.Fatalf("dequeue = %q, want first", id)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never resumed")
	}
	if id, _ := q.Dequeue(ctx); id != "third" {
		t.Fatalf("dequeue = %q, want third", id)
	}
}
