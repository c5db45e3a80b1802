package pipeline

import "testing"

func TestFIFOOrderWithinStage(t *testing.T) {
	p := New(2, func(from int, _ any) int { return from + 1 })
	for i := 0; i < 5; i++ {
		p.Queue(0, i)
	}
	for i := 0; i < 5; i++ {
		v, ok := p.Dequeue(0)
		if !ok || v.(int) != i {
			t.Fatalf("expected %d, got %v (ok=%v)", i, v, ok)
		}
	}
}

func TestTryPopEmptyReturnsFalse(t *testing.T) {
	p := New(1, func(from int, _ any) int { return from })
	if _, ok := p.TryPop(0); ok {
		t.Fatal("expected empty try-pop to report false")
	}
}

func TestStopUnblocksDequeueAfterDraining(t *testing.T) {
	p := New(1, func(from int, _ any) int { return from })
	p.Queue(0, "a")
	p.Stop()

	v, ok := p.Dequeue(0)
	if !ok || v != "a" {
		t.Fatalf("expected queued item to still be retrievable, got %v/%v", v, ok)
	}
	if _, ok := p.Dequeue(0); ok {
		t.Fatal("expected dequeue to report stopped once drained")
	}
}

func TestDequeueBlocksUntilStop(t *testing.T) {
	p := New(1, func(from int, _ any) int { return from })
	done := make(chan bool, 1)
	go func() {
		_, ok := p.Dequeue(0)
		done <- ok
	}()
	p.Stop()
	if ok := <-done; ok {
		t.Fatal("expected stopped dequeue with nothing queued to report false")
	}
}

func TestTotalSize(t *testing.T) {
	p := New(2, func(from int, _ any) int { return from })
	p.Queue(0, 1)
	p.Queue(0, 2)
	p.Queue(1, 3)
	if got := p.TotalSize(); got != 3 {
		t.Fatalf("expected total size 3, got %d", got)
	}
	if got := p.Size(0); got != 2 {
		t.Fatalf("expected stage 0 size 2, got %d", got)
	}
}
