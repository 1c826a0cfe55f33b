package rpcqueue

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestQueueBlocksUntilEnqueue(t *testing.T) {
	q := New[string]()

	result := make(chan string, 1)
	go func() {
		v, ok := q.Dequeue()
		if !ok {
			t.Error("expected ok=true")
		}
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("dequeue returned before any enqueue")
	default:
	}

	q.Enqueue("hello")

	select {
	case v := <-result:
		if v != "hello" {
			t.Fatalf("expected hello, got %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dequeue")
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	for _, want := range []int{1, 2} {
		v, ok := q.Dequeue()
		if !ok || v != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, v, ok)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected ok=false on drained, closed queue")
	}
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = q.Dequeue()
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
		if ok {
			t.Fatal("expected ok=false after close with no pending items")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked Dequeue to wake up")
	}
}

func TestQueueEnqueueAfterCloseIsNoOp(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Enqueue(1)
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected enqueue after close to be dropped")
	}
}
