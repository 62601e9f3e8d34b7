package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSingleWorkerPreservesOrder(t *testing.T) {
	p := New(1, 64)
	var mu sync.Mutex
	var got []int

	for i := 0; i < 32; i++ {
		i := i
		if !p.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Drain(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 32 {
		t.Fatalf("ran %d tasks, want 32", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestSubmitRejectsOnFullQueue(t *testing.T) {
	p := New(1, 1)
	block := make(chan struct{})
	p.Submit(func() { <-block })
	p.Submit(func() {}) // fills the queue

	rejected := false
	for i := 0; i < 8; i++ {
		if !p.Submit(func() {}) {
			rejected = true
			break
		}
	}
	close(block)
	if !rejected {
		t.Fatal("expected rejection with a full queue")
	}
	if p.Rejected() == 0 {
		t.Fatal("rejection counter not incremented")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)
}

func TestSubmitAfterDrainRejected(t *testing.T) {
	p := New(1, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)
	if p.Submit(func() {}) {
		t.Fatal("submit after drain must fail")
	}
}

func TestTaskPanicIsContained(t *testing.T) {
	p := New(1, 4)
	p.Submit(func() { panic("boom") })
	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after task panic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)
}
