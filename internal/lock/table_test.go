package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryAcquireRelease(t *testing.T) {
	table := NewTable()

	if err := table.TryAcquire("api"); err != nil {
		t.Fatalf("first TryAcquire() error = %v", err)
	}
	if err := table.TryAcquire("api"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second TryAcquire() error = %v, want ErrBusy", err)
	}
	if err := table.TryAcquire("web"); err != nil {
		t.Fatalf("other name should be independent, got %v", err)
	}

	if !table.Held("api") {
		t.Error("api should be held")
	}
	if got := table.HeldNames(); len(got) != 2 || got[0] != "api" || got[1] != "web" {
		t.Errorf("HeldNames() = %v", got)
	}

	table.Release("api")
	if table.Held("api") {
		t.Error("api should be free after release")
	}
	if err := table.TryAcquire("api"); err != nil {
		t.Errorf("TryAcquire() after release error = %v", err)
	}
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	table := NewTable()
	table.Release("never")
	table.Release("never")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := table.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v, in-flight count must not go negative", err)
	}
}

func TestConcurrentAcquireAtMostOne(t *testing.T) {
	table := NewTable()

	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		busy    atomic.Int32
		start   = make(chan struct{})
		workers = 50
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := table.TryAcquire("api"); {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("%d goroutines acquired the lock, want exactly 1", won.Load())
	}
	if busy.Load() != int32(workers-1) {
		t.Errorf("%d goroutines saw busy, want %d", busy.Load(), workers-1)
	}
}

func TestCloseAndWait(t *testing.T) {
	table := NewTable()
	if err := table.TryAcquire("api"); err != nil {
		t.Fatal(err)
	}

	table.Close()
	if err := table.TryAcquire("web"); !errors.Is(err, ErrClosed) {
		t.Errorf("TryAcquire() after Close error = %v, want ErrClosed", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := table.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() with a held lock error = %v, want deadline exceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		table.Release("api")
	}()

	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := table.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}
