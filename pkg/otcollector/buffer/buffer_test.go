package buffer

import (
	"sync"
	"testing"
)

func TestAppendDrainOrder(t *testing.T) {
	b := New[int](10, nil)
	b.Append(1, 2)
	b.Append(3)

	if got := b.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	got := b.Drain()
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drain[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if b.Len() != 0 {
		t.Error("drain must empty the buffer")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New[int](3, nil)
	b.Append(1, 2, 3)
	dropped := b.Append(4, 5)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}

	got := b.Drain()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("kept %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kept[%d] = %d, want %d (newest must survive)", i, got[i], want[i])
		}
	}
	if b.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", b.Dropped())
	}
}

func TestAppendLargerThanCapacity(t *testing.T) {
	b := New[int](2, nil)
	dropped := b.Append(1, 2, 3, 4, 5)
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	got := b.Drain()
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("kept = %v, want [4 5]", got)
	}
}

func TestConcurrentAppendDrain(t *testing.T) {
	b := New[int](1000, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Append(i)
			}
		}()
	}

	var drained int
	var dmu sync.Mutex
	stop := make(chan struct{})
	var dwg sync.WaitGroup
	dwg.Add(1)
	go func() {
		defer dwg.Done()
		for {
			select {
			case <-stop:
				dmu.Lock()
				drained += len(b.Drain())
				dmu.Unlock()
				return
			default:
				dmu.Lock()
				drained += len(b.Drain())
				dmu.Unlock()
			}
		}
	}()

	wg.Wait()
	close(stop)
	dwg.Wait()

	total := uint64(drained) + b.Dropped()
	if total != 4000 {
		t.Errorf("drained+dropped = %d, want 4000", total)
	}
}
