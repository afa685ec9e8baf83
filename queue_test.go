package i2s

import "testing"

func TestReadyQueueFIFO(t *testing.T) {
	var q readyQueue
	q.init(3)
	for _, idx := range []uint8{5, 7, 9} {
		if !q.put(idx) {
			t.Fatalf("put(%d) reported full at %d entries", idx, q.len())
		}
	}
	if !q.full() {
		t.Fatal("queue not full at capacity")
	}
	if q.put(11) {
		t.Fatal("put past capacity succeeded")
	}
	for _, want := range []uint8{5, 7, 9} {
		got, err := q.pop()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("pop = %d, want %d", got, want)
		}
	}
	if _, err := q.pop(); err != ErrQueueEmpty {
		t.Errorf("pop on empty = %v, want ErrQueueEmpty", err)
	}
}

func TestReadyQueueWraps(t *testing.T) {
	var q readyQueue
	q.init(3)
	// Interleave puts and pops long enough to wrap the backing array several
	// times; order must hold throughout.
	next := uint8(0)
	q.put(next)
	next++
	for i := 0; i < 20; i++ {
		q.put(next)
		next++
		got, err := q.pop()
		if err != nil {
			t.Fatal(err)
		}
		if got != uint8(i) {
			t.Fatalf("step %d: pop = %d, want %d", i, got, i)
		}
	}
}

func TestReadyQueueClear(t *testing.T) {
	var q readyQueue
	q.init(3)
	q.put(1)
	q.put(2)
	q.clear()
	if q.len() != 0 {
		t.Fatalf("len = %d after clear", q.len())
	}
	if _, err := q.pop(); err != ErrQueueEmpty {
		t.Errorf("pop after clear = %v, want ErrQueueEmpty", err)
	}
	if !q.put(3) {
		t.Error("put failed after clear")
	}
}
