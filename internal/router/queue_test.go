package router

import (
	"sync"
	"testing"
	"time"
)

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue[int](4, 0, nil)

	for i := 0; i < 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for i := 0; i < 3; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestFrameQueue_GrowsWhenFull(t *testing.T) {
	q := NewFrameQueue[int](2, 0, nil)

	// Wrap the ring before growing.
	q.Push(0)
	q.Push(1)
	q.Pop()
	for i := 2; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity < 99 {
		t.Errorf("Capacity = %d, want >= 99", stats.Capacity)
	}
	if stats.Grows == 0 {
		t.Error("expected at least one grow")
	}
	if stats.HighWater != 99 {
		t.Errorf("HighWater = %d, want 99", stats.HighWater)
	}

	for want := 1; want < 100; want++ {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %d, %v, want %d, true", got, ok, want)
		}
	}
}

func TestFrameQueue_MaxDepthEvictsOldest(t *testing.T) {
	q := NewFrameQueue[int](2, 3, nil)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	stats := q.Stats()
	if stats.Depth != 3 {
		t.Errorf("Depth = %d, want 3", stats.Depth)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.HighWater != 3 {
		t.Errorf("HighWater = %d, want 3", stats.HighWater)
	}

	for want := 2; want < 5; want++ {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %d, %v, want %d, true", got, ok, want)
		}
	}
}

func TestFrameQueue_HighWaterCallback(t *testing.T) {
	var depths []int
	q := NewFrameQueue[int](4, 0, func(depth int) {
		depths = append(depths, depth)
	})

	for i := 0; i < 20; i++ {
		q.Push(i)
	}

	// thresholds double: 4, 8, 16
	want := []int{4, 8, 16}
	if len(depths) != len(want) {
		t.Fatalf("callbacks at %v, want %v", depths, want)
	}
	for i := range want {
		if depths[i] != want[i] {
			t.Errorf("callback %d at depth %d, want %d", i, depths[i], want[i])
		}
	}

	// draining and refilling below the next threshold stays quiet
	for i := 0; i < 20; i++ {
		q.Pop()
	}
	for i := 0; i < 20; i++ {
		q.Push(i)
	}
	if len(depths) != 3 {
		t.Errorf("callbacks after refill = %v, want no new ones", depths)
	}
}

func TestFrameQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewFrameQueue[string](1, 0, nil)

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("frame")

	select {
	case v := <-got:
		if v != "frame" {
			t.Errorf("Pop() = %q, want frame", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestFrameQueue_CloseWakesWaiters(t *testing.T) {
	q := NewFrameQueue[int](1, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Pop(); ok {
				t.Error("Pop() returned ok after Close")
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()

	if q.Push(1) {
		t.Error("Push after Close returned true")
	}
}

func TestFrameQueue_ConcurrentProducers(t *testing.T) {
	q := NewFrameQueue[int](1, 0, nil)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	if stats.Pushed != 1000 {
		t.Errorf("Pushed = %d, want 1000", stats.Pushed)
	}
	if stats.Depth != 1000 {
		t.Errorf("Depth = %d, want 1000", stats.Depth)
	}
}
