package journal

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushDrain(t *testing.T) {
	q := newQueue[int](10, 100)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	got := q.DrainTo(0)
	if len(got) != 5 {
		t.Fatalf("DrainTo(0) returned %d items, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if q.DrainTo(0) != nil {
		t.Error("DrainTo on empty queue should return nil")
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := newQueue[int](10, 100)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	if q.Cap() <= 10 {
		t.Errorf("Cap() = %d, expected growth after 70%% fill", q.Cap())
	}
	if q.resizeCount != 1 {
		t.Errorf("resizeCount = %d, want 1", q.resizeCount)
	}

	got := q.DrainTo(0)
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
}

func TestQueue_FullRejects(t *testing.T) {
	q := newQueue[int](2, 5)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false before max", i)
		}
	}
	if q.Push(5) {
		t.Error("Push should return false at max capacity")
	}
	if q.Cap() != 5 {
		t.Errorf("Cap() = %d, want 5", q.Cap())
	}

	q.DrainTo(1)
	if !q.Push(5) {
		t.Error("Push should succeed after draining")
	}

	got := q.DrainTo(0)
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("DrainTo(0) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_DrainToLimit(t *testing.T) {
	q := newQueue[int](10, 100)
	for i := 0; i < 8; i++ {
		q.Push(i)
	}

	first := q.DrainTo(3)
	if len(first) != 3 || first[0] != 0 || first[2] != 2 {
		t.Errorf("DrainTo(3) = %v, want [0 1 2]", first)
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	// Remaining items re-signal readiness.
	select {
	case <-q.Ready():
	default:
		t.Error("Ready() not signalled with items remaining")
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := newQueue[int](10, 10)

	for i := 0; i < 6; i++ {
		q.Push(i)
	}
	q.DrainTo(4)
	for i := 6; i < 12; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	got := q.DrainTo(0)
	for i, v := range got {
		if v != i+4 {
			t.Errorf("item %d = %d, want %d", i, v, i+4)
		}
	}
}

func TestQueue_Close(t *testing.T) {
	q := newQueue[int](10, 100)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push should return false after Close")
	}

	got := q.DrainTo(0)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("DrainTo(0) after Close = %v, want [1 2]", got)
	}
}

func TestQueue_ConcurrentPushDrain(t *testing.T) {
	q := newQueue[int](4, 10000)
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case <-q.Ready():
			total += len(q.DrainTo(50))
		case <-done:
			break loop
		case <-deadline:
			t.Fatal("timeout draining queue")
		}
	}
	total += len(q.DrainTo(0))

	if total != producers*perProducer {
		t.Errorf("drained %d items, want %d", total, producers*perProducer)
	}
}

func TestQueue_MinCapacity(t *testing.T) {
	q := newQueue[int](0, 0)
	if q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", q.Cap())
	}
	if !q.Push(1) {
		t.Error("Push to min-capacity queue should succeed")
	}
	if q.Push(2) {
		t.Error("second Push should fail at max 1")
	}
}
