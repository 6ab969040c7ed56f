package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_ExecutesSubmittedTasks(t *testing.T) {
	q, err := New(context.Background(), 2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if !q.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}) {
			t.Fatal("submit rejected with empty queue")
		}
	}

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 10 {
		t.Errorf("ran = %d, want 10", ran.Load())
	}
}

func TestQueue_CloseDrainsPendingTasks(t *testing.T) {
	q, err := New(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int32
	release := make(chan struct{})

	// First task blocks the single worker so the rest queue up.
	q.Submit("blocker", func(context.Context) error {
		<-release
		return nil
	})
	for i := 0; i < 5; i++ {
		q.Submit("queued", func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	close(release)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 5 {
		t.Errorf("drained %d tasks, want 5", ran.Load())
	}
}

func TestQueue_SubmitAfterCloseIsRejected(t *testing.T) {
	q, _ := New(context.Background(), 1, nil, nil)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	if q.Submit("late", func(context.Context) error { return nil }) {
		t.Error("submit after close should report false")
	}
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	q, _ := New(context.Background(), 1, nil, nil)

	q.Submit("boom", func(context.Context) error {
		panic("task exploded")
	})

	var ran atomic.Bool
	q.Submit("after", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if !ran.Load() {
		t.Error("worker should survive a panicking task")
	}
}

func TestQueue_ErrorsAreSwallowed(t *testing.T) {
	q, _ := New(context.Background(), 1, nil, nil)

	done := make(chan struct{})
	q.Submit("fails", func(context.Context) error {
		defer close(done)
		return errors.New("background failure")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	q.Close()
}

func TestNew_NilContext(t *testing.T) {
	if _, err := New(nil, 1, nil, nil); err == nil {
		t.Error("expected error for nil context")
	}
}
