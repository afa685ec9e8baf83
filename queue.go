package i2s

// readyQueue is a bounded FIFO of descriptor indices that have completed a
// DMA cycle and are eligible for reuse. Its capacity is one less than the
// ring size: one descriptor is always in flight with the engine and must
// never appear here at the same time.
//
// Both operations are O(1), allocation-free and safe to call from interrupt
// context. FIFO order bounds the staleness of any buffer to one full ring
// rotation: the oldest finished buffer is always recycled first.
type readyQueue struct {
	slots []uint8
	head  uint8
	used  uint8
}

// init sizes the queue for capacity entries and empties it.
func (q *readyQueue) init(capacity int) {
	q.slots = make([]uint8, capacity)
	q.head, q.used = 0, 0
}

// put appends idx at the tail. It reports false when the queue is already at
// capacity, which is the underflow signal to the caller.
func (q *readyQueue) put(idx uint8) bool {
	if int(q.used) >= len(q.slots) {
		return false
	}
	q.slots[(int(q.head)+int(q.used))%len(q.slots)] = idx
	q.used++
	return true
}

// peek returns the oldest entry without removing it, or ErrQueueEmpty.
func (q *readyQueue) peek() (uint8, error) {
	if q.used == 0 {
		return 0, ErrQueueEmpty
	}
	return q.slots[q.head], nil
}

// pop removes and returns the oldest entry, or ErrQueueEmpty.
func (q *readyQueue) pop() (uint8, error) {
	if q.used == 0 {
		return 0, ErrQueueEmpty
	}
	idx := q.slots[q.head]
	q.head = uint8((int(q.head) + 1) % len(q.slots))
	q.used--
	return idx, nil
}

func (q *readyQueue) len() int { return int(q.used) }
func (q *readyQueue) full() bool { return int(q.used) >= len(q.slots) }

// clear discards all entries. Capacity is unchanged.
func (q *readyQueue) clear() { q.head, q.used = 0, 0 }
